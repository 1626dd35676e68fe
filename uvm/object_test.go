package uvm

import "github.com/CascadeOS/CascadeOS-sub010/physmem"

// objectPage is a single faked resident page for fakeObject.
type objectPage struct {
	page *physmem.Page
}

// fakeObject is a minimal Object collaborator for tests: every offset not
// explicitly populated via pages demand-zero-fills.
type fakeObject struct {
	pages  map[uint64]*objectPage
	refs   int
	shared bool
}

func (o *fakeObject) GetPage(off uint64) (*physmem.Page, ObjectPageOutcome, error) {
	if p, ok := o.pages[off]; ok {
		return p.page, ObjectPageResident, nil
	}
	return nil, ObjectPageZeroFill, nil
}

func (o *fakeObject) Shared() bool { return o.shared }
func (o *fakeObject) Ref()         { o.refs++ }
func (o *fakeObject) Unref()       { o.refs-- }
