package cache

import (
	"github.com/ohler55/ojg/oj"
)

// sniffSize is how much of a file is read to find its asset_info.
const sniffSize = 4 * 1024

// sniffAssetType finds asset_info.type in the first bytes of a file
// without parsing the rest, which may be megabytes of geometry. asset_info
// comes first in every asset file, so the first complete object carrying a
// "revision" key is taken to be it. Objects nested in asset_info, such as
// "contributor", complete earlier but have no revision.
//
// The tokenizer fails once it runs off the end of head; everything before
// that point has been seen, so the error is ignored. ok is false when no
// asset_info was found.
func sniffAssetType(head []byte) (typ string, ok bool) {
	var s assetInfoSniffer
	_ = oj.Tokenize(head, &s)
	return s.typ, s.found
}

type sniffFrame struct {
	object      bool
	key         string
	hasRevision bool
	typ         string
}

// assetInfoSniffer is an oj.TokenHandler tracking the open containers.
type assetInfoSniffer struct {
	stack []sniffFrame
	found bool
	typ   string
}

func (s *assetInfoSniffer) top() *sniffFrame {
	if len(s.stack) == 0 {
		return nil
	}
	return &s.stack[len(s.stack)-1]
}

func (s *assetInfoSniffer) ObjectStart() { s.stack = append(s.stack, sniffFrame{object: true}) }
func (s *assetInfoSniffer) ArrayStart() { s.stack = append(s.stack, sniffFrame{}) }
func (s *assetInfoSniffer) ArrayEnd() { s.pop() }

func (s *assetInfoSniffer) ObjectEnd() {
	f := s.pop()
	if f.hasRevision && !s.found {
		s.found = true
		s.typ = f.typ
	}
}

func (s *assetInfoSniffer) pop() sniffFrame {
	if len(s.stack) == 0 {
		return sniffFrame{}
	}
	f := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return f
}

func (s *assetInfoSniffer) Key(k string) {
	if f := s.top(); f != nil && f.object {
		f.key = k
		if k == "revision" {
			f.hasRevision = true
		}
	}
}

func (s *assetInfoSniffer) String(v string) {
	if f := s.top(); f != nil && f.object && f.key == "type" {
		f.typ = v
	}
}

func (s *assetInfoSniffer) Null() {}
func (s *assetInfoSniffer) Bool(bool) {}
func (s *assetInfoSniffer) Int(int64) {}
func (s *assetInfoSniffer) Float(float64) {}
func (s *assetInfoSniffer) Number(string) {}
