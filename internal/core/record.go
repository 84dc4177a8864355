package core

import "fmt"

type RecordType string

const (
	RecordA    RecordType = "A"
	RecordAAAA RecordType = "AAAA"
)

// Record is one desired or observed DNS record.
type Record struct {
	Name    string     `json:"name"`
	Type    RecordType `json:"type"`
	Content string     `json:"content"`
	TTL     int        `json:"ttl"`
	Proxied bool       `json:"proxied"`
}

// Key identifies a record slot: the provider allows one managed record
// per (type, name) pair.
func (r Record) Key() string {
	return fmt.Sprintf("%s %s", r.Type, r.Name)
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s -> %s (ttl=%d proxied=%v)", r.Type, r.Name, r.Content, r.TTL, r.Proxied)
}
