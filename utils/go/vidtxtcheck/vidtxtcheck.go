// Package vidtxtcheck is a CLI utility that validates vidtxt files.
package main

import (
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vidtty/pkg/video/vidtxt"
)

const usage = `validate vidtxt files
example: vidtxtcheck ~/videos`

func main() {
	ok, err := run(os.Args, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	if !ok {
		os.Exit(1)
	}
}

// run returns false if any file is invalid.
func run(args []string, w io.Writer) (bool, error) {
	if len(args) != 2 {
		fmt.Fprintln(w, usage)
		return true, nil
	}

	var files []string
	walkFunc := func(path string, info fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%v %w", path, err)
		}
		if info.IsDir() || !strings.EqualFold(filepath.Ext(path), vidtxt.Ext) {
			return nil
		}
		files = append(files, path)
		return nil
	}
	if err := filepath.WalkDir(args[1], walkFunc); err != nil {
		return false, err
	}

	nFiles := len(files)
	fmt.Fprintf(w, "Found %v files.\n", nFiles)

	chResults := make(chan result, nFiles)
	for _, file := range files {
		go func(file string) {
			chResults <- check(file)
		}(file)
	}

	results := make([]result, 0, nFiles)
	for i := 0; i < nFiles; i++ {
		results = append(results, <-chResults)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].file < results[j].file
	})

	ok := true
	for i, result := range results {
		fmt.Fprintf(w, "[%v/%v]", i+1, nFiles)
		if result.err != nil {
			ok = false
			fmt.Fprintf(w, "[ERR] %v %v\n", result.file, result.err)
			continue
		}
		fmt.Fprintf(w, "[OK] %v %v frames, %v\n",
			result.file, result.frames, vidtxt.FormatDuration(result.duration))
	}
	return ok, nil
}

type result struct {
	file     string
	frames   int64
	duration float64
	err      error
}

// check opens the file with the strict byte order and reads every frame.
func check(file string) result {
	r, err := vidtxt.Open(file, vidtxt.StrictByteOrder)
	if err != nil {
		return result{file: file, err: err}
	}
	defer r.Close()

	if _, err := io.Copy(io.Discard, r.AudioRegion()); err != nil {
		return result{file: file, err: fmt.Errorf("read audio: %w", err)}
	}

	if r.TotalFrames() == 0 {
		return result{file: file, duration: r.Duration()}
	}

	buf := make([]byte, r.FrameSize())
	var frames int64
	for {
		err := r.ReadFrameInto(buf)
		if err == io.EOF { //nolint:errorlint
			break
		}
		if err != nil {
			return result{file: file, err: err}
		}
		frames++
	}
	if frames != r.TotalFrames() {
		return result{
			file: file,
			err:  fmt.Errorf("read %d of %d frames", frames, r.TotalFrames()), //nolint:goerr113
		}
	}
	return result{file: file, frames: frames, duration: r.Duration()}
}
