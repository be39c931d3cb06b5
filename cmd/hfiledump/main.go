// hfiledump prints the structure and, optionally, the contents of an HFile.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hfiledb/hfile/pkg/common/log"
	"github.com/hfiledb/hfile/pkg/config"
	"github.com/hfiledb/hfile/pkg/hfile"
)

var (
	configPath = flag.String("config", "", "JSON config file for cache and pool settings")
	printMeta  = flag.Bool("meta", false, "Print meta block names and sizes")
	printInfo  = flag.Bool("info", true, "Print the file info map")
	scan       = flag.Bool("scan", false, "Scan and print every cell")
	values     = flag.Bool("values", false, "Include cell values when scanning")
	checkRow   = flag.String("check-row", "", "Probe the bloom filter for a row")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: hfiledump [flags] <file>\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *verbose {
		log.GetDefaultLogger().SetLevel(log.LevelDebug)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "hfiledump: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	var cc *hfile.CacheConfig
	if *configPath != "" {
		cfg, err := config.LoadFromFile(*configPath)
		if err != nil {
			return err
		}
		cc, err = cfg.CacheConfig()
		if err != nil {
			return err
		}
		defer cc.Cache.Shutdown()
	}

	r, err := hfile.Open(path, cc)
	if err != nil {
		return err
	}
	defer r.Close()

	tr := r.Trailer()
	fmt.Printf("file: %s\n", r.Name())
	fmt.Printf("  version:           %d\n", tr.Version)
	fmt.Printf("  entries:           %d\n", tr.EntryCount)
	fmt.Printf("  compression:       %s\n", tr.Compression)
	fmt.Printf("  checksum:          %s\n", tr.ChecksumType)
	fmt.Printf("  index levels:      %d\n", tr.DataIndexLevels)
	fmt.Printf("  load-on-open at:   %d\n", tr.LoadOnOpenOffset)
	fmt.Printf("  root index at:     %d\n", tr.RootIndexOffset)
	fmt.Printf("  meta index at:     %d\n", tr.MetaIndexOffset)
	fmt.Printf("  file info at:      %d\n", tr.FileInfoOffset)

	if fk, err := r.FirstKey(); err == nil && fk != nil {
		fmt.Printf("  first key:         %s\n", fk.KeyString())
	}
	if lk, err := r.LastKey(); err == nil && lk != nil {
		fmt.Printf("  last key:          %s\n", lk.KeyString())
	}

	if *printInfo {
		fmt.Println("file info:")
		for _, key := range []string{
			"hfile.TABLE", "hfile.FAMILY", "hfile.ENTRY_COUNT", "hfile.COMPARATOR",
			"hfile.AVG_KEY_LEN", "hfile.AVG_VALUE_LEN", "hfile.CREATE_TIME_TS", "hfile.TAGS",
		} {
			if v, ok := r.FileInfo(key); ok {
				fmt.Printf("  %-24s %q\n", key, v)
			}
		}
	}

	if *printMeta {
		names := r.MetaBlockNames()
		fmt.Printf("meta blocks: %d\n", len(names))
		for _, name := range names {
			blk, err := r.GetMetaBlock(name, hfile.ReadOptions{})
			if err != nil {
				return fmt.Errorf("reading meta block %q: %w", name, err)
			}
			fmt.Printf("  %-24s %d bytes\n", name, len(blk.Payload()))
			blk.Release()
		}
	}

	if *checkRow != "" {
		fmt.Printf("bloom filter says row %q may be present: %v\n", *checkRow, r.MayContainRow([]byte(*checkRow)))
	}

	if *scan {
		return scanAll(r)
	}
	return nil
}

func scanAll(r *hfile.Reader) error {
	var metrics hfile.ScanMetrics
	s := r.ScannerWithMetrics(&metrics)
	defer s.Close()

	ok, err := s.SeekToFirst()
	if err != nil {
		return err
	}
	count := 0
	for ok {
		c := s.Cell()
		if *values {
			fmt.Printf("%s = %q\n", c.KeyString(), c.Value)
		} else {
			fmt.Println(c.KeyString())
		}
		count++
		more, err := s.Next()
		if err != nil {
			return err
		}
		ok = more
	}
	fmt.Printf("scanned %d cells (%d bytes from fs, %d from cache)\n",
		count, metrics.BytesReadFromFS(), metrics.BytesReadFromCache())
	return nil
}
