package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/minio/highwayhash"
	"github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
)

// contentFingerprintKey is an arbitrary fixed 32-byte key for the HighwayHash
// content fingerprint below - it only needs to be stable within a process,
// not secret, since it's used for duplicate-content detection, not auth.
var contentFingerprintKey = []byte("sapptrace-dup-detect-01234567890")

func contentFingerprint(content []byte) (uint64, error) {
	h, err := highwayhash.New64(contentFingerprintKey)
	if err != nil {
		return 0, err
	}
	if _, err := h.Write(content); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// FileParser parses a single analyzer-output file into the issues and
// conditions it contains. Implementations are constructed per-worker, since
// the upstream analyzer parsers are not safe for concurrent reuse.
type FileParser interface {
	ParseFile(ctx context.Context, path string, content []byte) (DictEntries, error)
}

// FileParserFactory builds a fresh FileParser for each worker goroutine,
// mirroring the upstream pattern of constructing one parser instance per
// process rather than sharing one across workers.
type FileParserFactory func() FileParser

// ParallelParser fans a set of analyzer-output files out across a worker
// pool of goroutines and merges the unordered results. It is the Go
// equivalent of farming file parsing out across worker processes: each
// worker owns its own parser instance and exchanges only plain values over
// channels, never the trace graph itself.
type ParallelParser struct {
	Log        *logrus.Logger
	FS         afs.Service
	NewParser  FileParserFactory
	Concurrency int
}

// NewParallelParser returns a ParallelParser with concurrency defaulted to
// the number of available CPUs, matching the upstream pool's processes=None.
func NewParallelParser(log *logrus.Logger, newParser FileParserFactory) *ParallelParser {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ParallelParser{Log: log, FS: afs.New(), NewParser: newParser, Concurrency: runtime.NumCPU()}
}

type parseResult struct {
	path    string
	entries DictEntries
	err     error
}

// Parse walks every regular file under root, parses them concurrently, and
// merges the results. Progress is logged every 10 files completed,
// regardless of completion order - the driver consumes the worker pool's
// output stream unordered, same as the upstream imap_unordered.
func (p *ParallelParser) Parse(ctx context.Context, root string) (DictEntries, error) {
	var files []string
	var visitor storage.OnVisit = func(ctx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (bool, error) {
		if info.IsDir() {
			return true, nil
		}
		files = append(files, url.Join(baseURL, parent, info.Name()))
		return true, nil
	}
	if err := p.FS.Walk(ctx, root, visitor); err != nil {
		return DictEntries{}, fmt.Errorf("ingest: walking %s: %w", root, err)
	}

	p.Log.Infof("parsing %d files in parallel", len(files))

	jobs := make(chan string)
	results := make(chan parseResult)

	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var seenMu sync.Mutex
	seenFingerprints := make(map[uint64]struct{})

	var workers sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			parser := p.NewParser()
			for path := range jobs {
				content, err := p.FS.DownloadWithURL(ctx, path)
				if err != nil {
					results <- parseResult{path: path, err: err}
					continue
				}

				if fp, err := contentFingerprint(content); err == nil {
					seenMu.Lock()
					_, duplicate := seenFingerprints[fp]
					if !duplicate {
						seenFingerprints[fp] = struct{}{}
					}
					seenMu.Unlock()
					if duplicate {
						p.Log.WithField("path", path).Debug("skipping byte-identical duplicate file")
						results <- parseResult{path: path}
						continue
					}
				}

				entries, err := parser.ParseFile(ctx, path, content)
				results <- parseResult{path: path, entries: entries, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, f := range files {
			select {
			case jobs <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		workers.Wait()
		close(results)
	}()

	merged := DictEntries{
		Preconditions:  make(map[ConditionKey][]ParseConditionTuple),
		Postconditions: make(map[ConditionKey][]ParseConditionTuple),
	}

	numFiles := len(files)
	completed := 0
	var firstErr error
	for res := range results {
		completed++
		if completed%10 == 0 || completed == numFiles {
			pct := 0.0
			if numFiles > 0 {
				pct = float64(completed) / float64(numFiles) * 100
			}
			p.Log.Infof("%d/%d (%.2f%%) files parsed", completed, numFiles, pct)
		}
		if res.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("ingest: parsing %s: %w", res.path, res.err)
			}
			continue
		}
		mergeInto(&merged, res.entries)
	}

	if firstErr != nil {
		return DictEntries{}, firstErr
	}
	return merged, nil
}

func mergeInto(dst *DictEntries, src DictEntries) {
	dst.Issues = append(dst.Issues, src.Issues...)
	for k, v := range src.Preconditions {
		dst.Preconditions[k] = append(dst.Preconditions[k], v...)
	}
	for k, v := range src.Postconditions {
		dst.Postconditions[k] = append(dst.Postconditions[k], v...)
	}
}
