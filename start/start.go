// Package main starts vidtty.
package main

import (
	"log"

	"vidtty"
)

func main() {
	if err := vidtty.Run(); err != nil {
		log.Fatal(err)
	}
}
