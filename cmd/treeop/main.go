package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	treeop "github.com/mattkeenan/treeop/pkg"
)

var flags struct {
	intersect        bool
	stats            bool
	listFiles        bool
	listA            bool
	listB            bool
	listBoth         bool
	extractA         string
	extractB         string
	removeCopies     bool
	hardlinkCopies   bool
	sameFilename     bool
	readBench        bool
	bufSize          string
	minSize          string
	maxHardlinks     uint64
	dryRun           bool
	newDirDb         bool
	updateDirDb      bool
	removeDirDb      bool
	getUniqueHashLen bool
	sizeHistogram    string
	maxSize          string
	progress         int
	width            int
	verbose          int
}

var rootCmd = &cobra.Command{
	Use:   "treeop [flags] DIR...",
	Short: "Operations on huge directory trees",
	Long: "Operations on huge directory trees: per-directory content indexing,\n" +
		"duplicate statistics, set algebra across roots, deduplication by\n" +
		"deletion or hardlink replacement.\n\n" +
		"All sizes may be specified with kMGTPE suffixes indicating powers of 1024.",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.BoolVarP(&flags.intersect, "intersect", "i", false, "determine the intersection of the given dirs (at least two)")
	f.BoolVarP(&flags.stats, "stats", "s", false, "print statistics about each dir (default when no other operation is chosen)")
	f.BoolVarP(&flags.listFiles, "list-files", "l", false, "list all files with stored meta-data")
	f.BoolVar(&flags.listA, "list-a", false, "list files only in A (requires --intersect with two dirs)")
	f.BoolVar(&flags.listB, "list-b", false, "list files only in B (requires --intersect with two dirs)")
	f.BoolVar(&flags.listBoth, "list-both", false, "list files in both A and B (requires --intersect with two dirs)")
	f.StringVar(&flags.extractA, "extract-a", "", "extract files only in A into `DIR` (requires --intersect with two dirs)")
	f.StringVar(&flags.extractB, "extract-b", "", "extract files only in B into `DIR` (requires --intersect with two dirs)")
	f.BoolVar(&flags.removeCopies, "remove-copies", false, "delete duplicates from later roots, first root wins (requires --intersect)")
	f.BoolVar(&flags.hardlinkCopies, "hardlink-copies", false, "replace duplicates with hardlinks to the oldest file")
	f.BoolVar(&flags.sameFilename, "same-filename", false, "only treat files with identical leaf names as identical content")
	f.BoolVar(&flags.readBench, "readbench", false, "measure raw read throughput (mutually exclusive with everything else)")
	f.StringVar(&flags.bufSize, "bufsize", "", "read buffer size for hashing and readbench (default 1M)")
	f.StringVar(&flags.minSize, "min-size", "", "minimum file size considered by --hardlink-copies")
	f.Uint64Var(&flags.maxHardlinks, "max-hardlinks", 0, "refuse to add links to a target with that many existing links (default 60000)")
	f.BoolVar(&flags.dryRun, "dry-run", false, "print intended changes only")
	f.BoolVar(&flags.newDirDb, "new-dirdb", false, "force creation of new .dirdb files (overwrite existing)")
	f.BoolVarP(&flags.updateDirDb, "update-dirdb", "u", false, "update .dirdb files, reusing hashes when inode/size/mtime match")
	f.BoolVar(&flags.removeDirDb, "remove-dirdb", false, "recursively remove all .dirdb files under the given dirs")
	f.BoolVar(&flags.getUniqueHashLen, "get-unique-hash-len", false, "print the minimum hash length in bits that makes all file contents unique")
	f.StringVar(&flags.sizeHistogram, "size-histogram", "", "print a size histogram with bucket width `N` bytes")
	f.StringVar(&flags.maxSize, "max-size", "", "maximum file size to include in the size histogram")
	f.CountVarP(&flags.progress, "progress", "p", "print progress once per second (twice for linefeed mode)")
	f.IntVarP(&flags.width, "width", "W", 0, "maximum width of the progress line (default 199)")
	f.CountVarP(&flags.verbose, "verbose", "v", "increase verbosity, may be given multiple times")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// anyOperation reports whether any explicit operation flag is set.
func anyOperation() bool {
	return flags.stats || flags.listFiles || flags.sizeHistogram != "" ||
		flags.removeDirDb || flags.intersect || flags.updateDirDb ||
		flags.listA || flags.listB || flags.listBoth ||
		flags.extractA != "" || flags.extractB != "" ||
		flags.getUniqueHashLen || flags.removeCopies || flags.hardlinkCopies
}

func validateFlags(args []string) error {
	if flags.newDirDb && flags.updateDirDb {
		return treeop.Usagef("cannot combine --new-dirdb with --update-dirdb")
	}
	if flags.readBench && (anyOperation() || flags.newDirDb) {
		return treeop.Usagef("--readbench cannot be combined with other operations")
	}
	if (flags.listA || flags.listB || flags.listBoth) && !flags.intersect {
		return treeop.Usagef("--list-a/--list-b/--list-both require --intersect")
	}
	if (flags.extractA != "" || flags.extractB != "") && !flags.intersect {
		return treeop.Usagef("--extract-a/--extract-b require --intersect")
	}
	if flags.removeCopies && !flags.intersect {
		return treeop.Usagef("--remove-copies requires --intersect")
	}
	if flags.removeCopies && flags.hardlinkCopies {
		return treeop.Usagef("cannot combine --remove-copies with --hardlink-copies")
	}
	if flags.intersect && len(args) < 2 {
		return treeop.Usagef("--intersect requires at least two directories")
	}
	needTwo := flags.listA || flags.listB || flags.listBoth || flags.extractA != "" || flags.extractB != ""
	if needTwo && len(args) != 2 {
		return treeop.Usagef("--list-a/--list-b/--list-both/--extract-a/--extract-b require exactly two directories")
	}
	if flags.dryRun && !(flags.removeCopies || flags.hardlinkCopies || flags.removeDirDb ||
		flags.extractA != "" || flags.extractB != "") {
		return treeop.Usagef("--dry-run is only valid with --remove-copies, --hardlink-copies, --remove-dirdb or --extract-a/--extract-b")
	}
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return &treeop.PathError{Path: path, Msg: "does not exist"}
		}
		if !info.IsDir() {
			return &treeop.PathError{Path: path, Msg: "is not a directory"}
		}
	}
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	if err := validateFlags(args); err != nil {
		return err
	}

	cfg, err := treeop.LoadConfig("")
	if err != nil {
		return err
	}
	scanCfg := cfg.GetScanConfig()
	hashCfg := cfg.GetHashConfig()
	progressCfg := cfg.GetProgressConfig()
	hardlinkCfg := cfg.GetHardlinkConfig()

	if err := treeop.ValidateDigestName(hashCfg.Default); err != nil {
		return err
	}

	bufSize := scanCfg.BufSize
	if flags.bufSize != "" {
		bufSize, err = treeop.ParseSize(flags.bufSize)
		if err != nil {
			return treeop.Usagef("invalid --bufsize: %v", err)
		}
	}
	if bufSize == 0 {
		return treeop.Usagef("--bufsize must be greater than 0")
	}
	minSize := hardlinkCfg.MinSize
	if flags.minSize != "" {
		minSize, err = treeop.ParseSize(flags.minSize)
		if err != nil {
			return treeop.Usagef("invalid --min-size: %v", err)
		}
	}
	maxHardlinks := hardlinkCfg.MaxLinks
	if cmd.Flags().Changed("max-hardlinks") {
		maxHardlinks = flags.maxHardlinks
	}
	if maxHardlinks == 0 {
		return treeop.Usagef("--max-hardlinks must be greater than 0")
	}
	width := progressCfg.Width
	if flags.width > 0 {
		width = flags.width
	}

	opts := &treeop.Options{
		BufSize:    int(bufSize),
		DigestName: hashCfg.Default,
		Verbose:    flags.verbose,
	}
	var tracker *treeop.Tracker
	if flags.progress > 0 {
		tracker = treeop.NewTracker(os.Stdout, width, flags.progress > 1)
		opts.Progress = tracker
	}

	// Implicit default operation.
	if !anyOperation() && !flags.readBench {
		flags.stats = true
	}

	normalizedRoots := make([]string, len(args))
	for i, path := range args {
		normalizedRoots[i] = treeop.NormalizePath(path)
	}

	if flags.removeDirDb {
		for _, root := range normalizedRoots {
			if err := treeop.RemoveDirDbTree(root, opts, flags.dryRun); err != nil {
				return err
			}
		}
		if flags.verbose > 0 {
			fmt.Println("Done.")
		}
		return nil
	}

	if flags.readBench {
		result, err := treeop.ReadBench(normalizedRoots, opts)
		if tracker != nil {
			tracker.Finish()
		}
		if err != nil {
			return err
		}
		treeop.PrintReadBench(os.Stdout, result)
		return nil
	}

	mode := treeop.LoadRead
	if flags.newDirDb {
		mode = treeop.LoadForceCreate
	}
	if flags.updateDirDb {
		mode = treeop.LoadUpdate
	}

	db := treeop.NewMainDb(normalizedRoots, flags.sameFilename, opts)
	for _, root := range normalizedRoots {
		start := time.Now()
		if err := treeop.ProcessDirTree(root, db, mode, opts); err != nil {
			if tracker != nil {
				tracker.Finish()
			}
			return err
		}
		db.SetRootElapsed(root, time.Since(start).Seconds())
	}
	if tracker != nil {
		tracker.Finish()
	}

	if flags.intersect {
		if err := runIntersect(db); err != nil {
			return err
		}
	} else {
		if flags.stats {
			db.PrintStats(os.Stdout)
		}
		if flags.sizeHistogram != "" {
			batchSize, err := treeop.ParseSize(flags.sizeHistogram)
			if err != nil {
				return treeop.Usagef("invalid --size-histogram: %v", err)
			}
			var maxSize uint64
			hasMaxSize := flags.maxSize != ""
			if hasMaxSize {
				maxSize, err = treeop.ParseSize(flags.maxSize)
				if err != nil {
					return treeop.Usagef("invalid --max-size: %v", err)
				}
			}
			if err := db.PrintSizeHistogram(os.Stdout, batchSize, maxSize, hasMaxSize); err != nil {
				return err
			}
		}
		if flags.listFiles {
			db.ListFiles(os.Stdout)
		}
		if flags.getUniqueHashLen {
			db.PrintUniqueHashLen(os.Stdout)
		}
	}

	if flags.hardlinkCopies {
		result, err := db.HardlinkCopies(minSize, maxHardlinks, flags.dryRun)
		if err != nil {
			return err
		}
		printMutationStats("created-links:", result.CreatedLinks, result.RemovedBytes)
	}

	if flags.verbose > 0 {
		fmt.Println("Done.")
	}
	return nil
}

func runIntersect(db *treeop.MainDb) error {
	if flags.extractA != "" {
		if err := db.ExtractUnique(0, 1, treeop.NormalizePath(flags.extractA), flags.dryRun); err != nil {
			return err
		}
	}
	if flags.extractB != "" {
		if err := db.ExtractUnique(1, 0, treeop.NormalizePath(flags.extractB), flags.dryRun); err != nil {
			return err
		}
	}
	db.PrintIntersectStats(os.Stdout)
	if flags.listA {
		db.ListOnly(os.Stdout, 0, "only-in-A:")
	}
	if flags.listB {
		db.ListOnly(os.Stdout, 1, "only-in-B:")
	}
	if flags.listBoth {
		db.ListBoth(os.Stdout)
	}
	if flags.removeCopies {
		result, err := db.RemoveCopies(flags.dryRun)
		if err != nil {
			return err
		}
		printMutationStats("removed-files:", result.RemovedFiles, result.RemovedBytes)
	}
	return nil
}

func printMutationStats(filesLabel string, files, bytes uint64) {
	fmt.Printf("%s %d\nremoved-size: %s\n", filesLabel, files, treeop.FormatSize(bytes))
}
