package validate

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sdejongh/xtochd/pkg/models"
)

// Prefix sizes read from text descriptors and image headers
const (
	fastPrefix     = 4 * 1024
	thoroughPrefix = 64 * 1024
	sectorSize     = 2048
	// an ISO9660 image holds at least the system area and one volume descriptor
	minOpticalSize = 17 * sectorSize
)

// Offsets of the "CD001" signature of the primary volume descriptor for
// cooked 2048-byte sectors, raw mode-1 and raw mode-2 sectors.
var volumeDescriptorOffsets = []int{32769, 37649, 37657}

// ErrInvalid is wrapped by every structural check failure
var ErrInvalid = errors.New("invalid image")

// Checker validates one file format. A nil error means the file passed.
type Checker interface {
	Check(ctx context.Context, path string, depth models.ValidationDepth) error

	// Name returns the name of the check
	Name() string
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func readPrefix(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

func prefixSize(depth models.ValidationDepth) int {
	if depth == models.DepthThorough {
		return thoroughPrefix
	}
	return fastPrefix
}

// descriptorChecker requires keywords in the head of a text descriptor:
// every entry of all, and at least one entry of any.
type descriptorChecker struct {
	name string
	all  []string
	any  []string
}

func (c *descriptorChecker) Name() string { return c.name }

func (c *descriptorChecker) Check(ctx context.Context, path string, depth models.ValidationDepth) error {
	head, err := readPrefix(path, prefixSize(depth))
	if err != nil {
		return err
	}
	upper := bytes.ToUpper(head)

	for _, kw := range c.all {
		if !bytes.Contains(upper, []byte(strings.ToUpper(kw))) {
			return invalid("missing %s", kw)
		}
	}
	if len(c.any) == 0 {
		return nil
	}
	for _, kw := range c.any {
		if bytes.Contains(upper, []byte(strings.ToUpper(kw))) {
			return nil
		}
	}
	return invalid("missing %s", strings.Join(c.any, " or "))
}

// cueChecker extends the descriptor check with referenced-file existence
type cueChecker struct {
	descriptorChecker
}

func newCueChecker() *cueChecker {
	return &cueChecker{descriptorChecker{name: "cue", all: []string{"FILE", "TRACK"}}}
}

func (c *cueChecker) Check(ctx context.Context, path string, depth models.ValidationDepth) error {
	if err := c.descriptorChecker.Check(ctx, path, depth); err != nil {
		return err
	}
	if depth != models.DepthThorough {
		return nil
	}

	head, err := readPrefix(path, thoroughPrefix)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	for _, ref := range cueReferences(head) {
		if _, err := os.Stat(filepath.Join(dir, ref)); err != nil {
			return invalid("referenced file %q not found", ref)
		}
	}
	return nil
}

// cueReferences extracts the file names of FILE commands
func cueReferences(sheet []byte) []string {
	var refs []string
	sc := bufio.NewScanner(bytes.NewReader(sheet))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if len(line) < 5 || !strings.EqualFold(line[:5], "FILE ") {
			continue
		}
		rest := strings.TrimSpace(line[5:])
		var name string
		if strings.HasPrefix(rest, `"`) {
			end := strings.Index(rest[1:], `"`)
			if end < 0 {
				continue
			}
			name = rest[1 : end+1]
		} else {
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				continue
			}
			name = fields[0]
		}
		if name != "" {
			refs = append(refs, filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
		}
	}
	return refs
}

// opticalChecker checks raw and cooked optical images
type opticalChecker struct{}

func (c *opticalChecker) Name() string { return "optical" }

func (c *opticalChecker) Check(ctx context.Context, path string, depth models.ValidationDepth) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() < minOpticalSize {
		return invalid("%d bytes is smaller than an optical image header", info.Size())
	}
	if depth != models.DepthThorough {
		return nil
	}

	head, err := readPrefix(path, thoroughPrefix)
	if err != nil {
		return err
	}
	for _, off := range volumeDescriptorOffsets {
		if off+5 <= len(head) && string(head[off:off+5]) == "CD001" {
			return nil
		}
	}
	return invalid("no ISO9660 volume descriptor")
}

// zipChecker checks archive containers
type zipChecker struct{}

func (c *zipChecker) Name() string { return "zip" }

func (c *zipChecker) Check(ctx context.Context, path string, depth models.ValidationDepth) error {
	if depth != models.DepthThorough {
		head, err := readPrefix(path, 4)
		if err != nil {
			return err
		}
		if !bytes.Equal(head, []byte("PK\x03\x04")) && !bytes.Equal(head, []byte("PK\x05\x06")) {
			return invalid("not a zip archive")
		}
		return nil
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return invalid("unreadable archive: %v", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := drain(f); err != nil {
			return invalid("member %s: %v", f.Name, err)
		}
	}
	return nil
}

// drain reads a member to EOF so archive/zip verifies its CRC-32
func drain(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// readableChecker accepts any file that can be opened
type readableChecker struct{}

func (c *readableChecker) Name() string { return "readable" }

func (c *readableChecker) Check(ctx context.Context, path string, depth models.ValidationDepth) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// defaultCheckers maps extensions to their checks
func defaultCheckers() map[string]Checker {
	optical := &opticalChecker{}
	return map[string]Checker{
		".cue": newCueChecker(),
		".toc": &descriptorChecker{name: "toc", all: []string{"TRACK"}, any: []string{"FILE", "DATAFILE"}},
		".ccd": &descriptorChecker{name: "ccd", all: []string{"[CloneCD]", "[Disc]"}},
		".iso": optical,
		".img": optical,
		".bin": optical,
		".zip": &zipChecker{},
	}
}
