package resource

// NewMapManager builds a Manager over pre-computed map splits. Splitting a
// file into those splits is an input-splitting heuristic, explicitly out of
// this core's scope (spec §1); SplitByRange and SplitByLine below are
// simple, serviceable defaults a cluster-container launcher or CLI front
// end can call, not the contract JobTracker depends on.
//
// Because a map Item's split metadata (InputFile/Offset/Length or
// StartLine/LineCount) and its attempt bookkeeping live in the same Item
// struct from construction onward, Dump/Load round-trip both together in
// a single copy, rather than as two separate copies into the same
// destination where the second could silently clobber the first's split
// fields.
func NewMapManager(splits []Item, parallelAttempts int) Manager {
	m := &idManager{
		items:            make([]Item, len(splits)),
		pendingQueue:     make([]int, len(splits)),
		pendingCount:     len(splits),
		parallelAttempts: parallelAttempts,
	}
	for i, s := range splits {
		s.No = i
		s.Attempt = 0
		s.Status = Pending
		s.Allocated = 0
		m.items[i] = s
		m.pendingQueue[i] = i
	}
	return m
}

// FileInfo describes one input file to be split for map tasks.
type FileInfo struct {
	Path string
	Size int64
}

// SplitByRange partitions each file into blockSize-byte chunks (the
// default, non-NLine variant of §4.1). blockSize <= 0 disables splitting:
// one Item per file.
func SplitByRange(files []FileInfo, blockSize int64) []Item {
	var out []Item
	for _, f := range files {
		if blockSize <= 0 || f.Size <= blockSize {
			out = append(out, Item{InputFile: f.Path, Offset: 0, Length: f.Size})
			continue
		}
		for offset := int64(0); offset < f.Size; offset += blockSize {
			length := blockSize
			if offset+length > f.Size {
				length = f.Size - offset
			}
			out = append(out, Item{InputFile: f.Path, Offset: offset, Length: length})
		}
	}
	return out
}

// SplitByLine partitions each file's line count into linesPerSplit-sized
// chunks (the NLine variant of §4.1). lineCounts[i] is the pre-counted
// number of lines in files[i] -- counting lines is itself part of the
// out-of-scope input-splitting heuristic.
func SplitByLine(files []FileInfo, lineCounts []int64, linesPerSplit int64) []Item {
	var out []Item
	for i, f := range files {
		total := lineCounts[i]
		if linesPerSplit <= 0 || total <= linesPerSplit {
			out = append(out, Item{InputFile: f.Path, StartLine: 0, LineCount: total})
			continue
		}
		for start := int64(0); start < total; start += linesPerSplit {
			count := linesPerSplit
			if start+count > total {
				count = total - start
			}
			out = append(out, Item{InputFile: f.Path, StartLine: start, LineCount: count})
		}
	}
	return out
}
