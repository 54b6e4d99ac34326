package storage

// MetaFileName is the hidden per-database metadata file.
// Table names may not start with a dot, so it never collides with a snapshot.
const MetaFileName = ".burp.json"

// MetaVersion is the current metadata layout version
const MetaVersion = 1

// DatabaseMeta is persisted next to the table snapshots of a database
type DatabaseMeta struct {
	Name     string `json:"name"`
	Version  int    `json:"version"`
	Encoding string `json:"encoding"`
	Save     string `json:"save,omitempty"`
}
