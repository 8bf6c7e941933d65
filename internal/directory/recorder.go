package directory

import "sync"

// Recorder is a test double that captures every published row in
// order, for asserting a Connection/Manager calls Publish after each
// successful allocation.
type Recorder struct {
	mu   sync.Mutex
	rows []Row
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(row Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return nil
}

func (r *Recorder) Query(partition string) ([]Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Row
	for _, row := range r.rows {
		if row.Partition == partition {
			out = append(out, row)
		}
	}
	return out, nil
}

// Rows returns every published row, in publish order.
func (r *Recorder) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Row, len(r.rows))
	copy(out, r.rows)
	return out
}

var _ Publisher = (*Recorder)(nil)
