package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/go-multierror"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/dsongraph/api"
	"github.com/agentic-research/dsongraph/internal/dsonurl"
	"github.com/agentic-research/dsongraph/internal/graph"
)

// ProgressFunc is called periodically during a scan with the number of
// files done so far.
type ProgressFunc func(done, total int, relPath string)

// Stats summarizes a scan.
type Stats struct {
	Files     int // files matching the pattern
	Unchanged int // skipped on mtime
	Parsed    int // read and re-indexed
	Failed    int
	Removed   int // pruned entries
	Saved     bool
}

// progressEvery spaces out progress callbacks.
const progressEvery = 100

var modifierLibrary = jp.MustParseString("$.modifier_library[*]")

type libraryFile struct {
	fsys billy.Filesystem
	rel  string // "/data/x.dsf"
	abs  string
	info os.FileInfo
}

// Scan brings the index up to date with the library. Files whose mtime
// matches the index are skipped. Entries for files no longer found are
// dropped. The cache is saved if anything changed.
//
// A file that fails to index is logged and skipped; its old entry, if any,
// stays. Nothing is pruned unless every search path was walked in full.
// The failures are returned together once the scan is done. A cancelled
// scan stops between files and is not saved.
func (c *Cache) Scan(ctx context.Context, library []billy.Filesystem, progress ProgressFunc) (Stats, error) {
	var stats Stats
	var errs *multierror.Error

	files, err := c.listFiles(library)
	listed := err == nil
	if !listed {
		errs = multierror.Append(errs, err)
	}
	stats.Files = len(files)

	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	seen := make(map[string]bool, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if progress != nil && i%progressEvery == 0 {
			progress(i, len(files), f.rel)
		}
		seen[f.rel] = true

		updated, err := c.scanAsset(f)
		switch {
		case err != nil:
			stats.Failed++
			c.logger.Warn("skipping file", "path", f.rel, "err", err)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", f.rel, err))
		case updated:
			stats.Parsed++
			changed = true
		default:
			stats.Unchanged++
		}
	}

	if !listed {
		c.logger.Warn("library listing incomplete, not pruning", "err", err)
	}
	for rel := range c.data.InfoPerFile {
		if listed && !seen[rel] {
			c.logger.Debug("pruning removed file", "path", rel)
			delete(c.data.InfoPerFile, rel)
			stats.Removed++
			changed = true
		}
	}

	if progress != nil {
		progress(len(files), len(files), "")
	}
	if changed {
		if err := c.save(); err != nil {
			return stats, err
		}
		stats.Saved = true
	}
	c.logger.Info("scan complete", "files", stats.Files, "parsed", stats.Parsed,
		"unchanged", stats.Unchanged, "removed", stats.Removed, "failed", stats.Failed)
	return stats, errs.ErrorOrNil()
}

// listFiles walks every search path for files matching the pattern. A
// relative path found in more than one search path is taken from the first.
// Unreadable entries are skipped and reported, and the walk goes on.
func (c *Cache) listFiles(library []billy.Filesystem) ([]libraryFile, error) {
	var files []libraryFile
	var errs *multierror.Error
	seen := make(map[string]bool)
	for _, fsys := range library {
		err := util.Walk(fsys, ".", func(p string, info os.FileInfo, err error) error {
			if err != nil {
				if p == "." {
					return err
				}
				c.logger.Warn("unreadable library entry", "path", p, "err", err)
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", p, err))
				return nil
			}
			if info.IsDir() {
				return nil
			}
			if ok, _ := filepath.Match(c.pattern, info.Name()); !ok {
				return nil
			}
			rel := "/" + filepath.ToSlash(filepath.Clean(p))
			if seen[rel] {
				return nil
			}
			seen[rel] = true
			files = append(files, libraryFile{
				fsys: fsys,
				rel:  rel,
				abs:  filepath.Join(fsys.Root(), filepath.FromSlash(rel)),
				info: info,
			})
			return nil
		})
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("walk %s: %w", fsys.Root(), err))
		}
	}
	return files, errs.ErrorOrNil()
}

// scanAsset re-indexes one file unless its mtime is unchanged. Every file
// gets an entry, modifier file or not.
func (c *Cache) scanAsset(f libraryFile) (bool, error) {
	mtime := f.info.ModTime().UnixNano()
	if old, ok := c.data.InfoPerFile[f.rel]; ok && old.LastMtime == mtime {
		return false, nil
	}

	mods, err := c.readModifiers(f)
	if err != nil {
		return false, err
	}
	c.logger.Debug("indexed file", "path", f.rel, "modifiers", len(mods))
	c.data.InfoPerFile[f.rel] = &api.FileInfo{
		Modifiers:    mods,
		LastMtime:    mtime,
		RelativePath: f.rel,
		AbsolutePath: filepath.ToSlash(f.abs),
	}
	return true, nil
}

// readModifiers indexes the modifier_library of a modifier asset. Other
// asset types can carry modifiers too, such as skin bindings, but those are
// not wanted; they yield an empty map.
func (c *Cache) readModifiers(f libraryFile) (map[string]*api.ModifierInfo, error) {
	mods := make(map[string]*api.ModifierInfo)

	rc, err := graph.OpenAsset(f.fsys, strings.TrimPrefix(f.rel, "/"))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	head = head[:n]
	if typ, ok := sniffAssetType(head); ok && typ != "modifier" {
		return mods, nil
	}

	rest, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	parsed, err := oj.Parse(append(head, rest...))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	doc, ok := parsed.(map[string]any)
	if !ok {
		return nil, errors.New("not a JSON object")
	}
	// The sniff can miss, e.g. when asset_info has no revision.
	if info, _ := doc["asset_info"].(map[string]any); info == nil || info["type"] != "modifier" {
		return mods, nil
	}

	for _, raw := range modifierLibrary.Get(doc) {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		info, err := modifierInfo(f.rel, entry)
		if err != nil {
			c.logger.Warn("skipping modifier", "path", f.rel, "err", err)
			continue
		}
		mods[info.ChannelPath] = info
	}
	return mods, nil
}

// modifierInfo extracts the indexed fields of one modifier_library entry.
func modifierInfo(rel string, m map[string]any) (*api.ModifierInfo, error) {
	id, _ := m["id"].(string)
	if id == "" {
		return nil, errors.New("modifier without id")
	}
	channel, _ := m["channel"].(map[string]any)
	channelID, _ := channel["id"].(string)
	if channelID == "" {
		return nil, fmt.Errorf("modifier %s has no channel", id)
	}
	parent, _ := m["parent"].(string)
	pu := dsonurl.Parse(parent)
	if pu.EscapedFragment() == "" {
		return nil, fmt.Errorf("modifier %s: parent %q names no node", id, parent)
	}

	escapedRel := dsonurl.Escape(rel)
	channelPath := dsonurl.Escape(id) + "?" + dsonurl.Escape(channelID)
	info := &api.ModifierInfo{
		ID:          id,
		URL:         escapedRel + "#" + dsonurl.Escape(id),
		ChannelPath: channelPath,
		ChannelURL:  escapedRel + "#" + channelPath,
		Parent:      absoluteURL(parent, rel),
		Channel:     channel,
		Formulas:    []api.Formula{},
		Keys:        make([]string, 0, len(m)),
	}
	info.Name, _ = m["name"].(string)
	info.Group, _ = m["group"].(string)
	info.Region, _ = m["region"].(string)
	if pres, ok := m["presentation"].(map[string]any); ok {
		info.PresentationType, _ = pres["type"].(string)
		info.PresentationLabel, _ = pres["label"].(string)
	}
	if channel["type"] == "alias" {
		info.TargetChannel, _ = channel["target_channel"].(string)
	}
	for k := range m {
		info.Keys = append(info.Keys, k)
	}
	slices.Sort(info.Keys)

	deps := make(map[string][]string)
	list, _ := m["formulas"].([]any)
	for _, rawFormula := range list {
		fm, ok := rawFormula.(map[string]any)
		if !ok {
			continue
		}
		out, _ := fm["output"].(string)
		stage, _ := fm["stage"].(string)
		f := api.Formula{Output: absoluteURL(out, rel), Stage: stage, Operations: []api.Operation{}}
		ops, _ := fm["operations"].([]any)
		for _, rawOp := range ops {
			om, _ := rawOp.(map[string]any)
			op := api.Operation{Val: om["val"]}
			op.Op, _ = om["op"].(string)
			if u, ok := om["url"].(string); ok && u != "" {
				op.URL = absoluteURL(u, rel)
				if stage == "mult" {
					deps[f.Output] = append(deps[f.Output], op.URL)
				}
			}
			f.Operations = append(f.Operations, op)
		}
		info.Formulas = append(info.Formulas, f)
	}
	info.ModifierDependencies = deps
	return info, nil
}

// absoluteURL drops the scheme of a formula URL and gives it the file's
// path when it has none: "Figure:#smile?value" in /a.dsf becomes
// "/a.dsf#smile?value".
func absoluteURL(raw, rel string) string {
	u := dsonurl.Parse(raw)
	u.SetEscapedScheme("")
	if u.EscapedPath() == "" {
		u.SetPath(rel)
	}
	return u.String()
}
