package domain

// Message is a single persisted question/answer turn for a sender.
type Message struct {
	PK     string
	SK     string
	Sender string
	Text   string
	Answer string
	TTL    int64
}

// PendingContinuation is the undelivered tail of a long reply. Rev changes on
// every write and guards concurrent pops.
type PendingContinuation struct {
	Sender string
	Chunks []string
	Rev    string
	TTL    int64
}

// AbuseRecord is a logged message that matched a banned pattern.
type AbuseRecord struct {
	Sender   string
	Message  string
	Term     string
	LoggedAt string
}

// Document is a generated file offered for download.
type Document struct {
	Name        string
	ContentType string
	Body        []byte
	CreatedAt   string
}
