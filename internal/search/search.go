package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	DocumentType string `json:"documentType"`
	Status       string `json:"status"`
	UploaderName string `json:"uploaderName,omitempty"`
}

// Query describes a search request. Actor scopes the Postgres fallback to
// the caller's row-level permissions.
type Query struct {
	Text         string
	Status       string // empty = any status
	DocumentType string
	Limit        int
	Offset       int
	Actor        string
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	DocumentType   string `json:"documentType"`
	Status         string `json:"status"`
	UploaderName   string `json:"uploaderName"`
	CurrentVersion int    `json:"currentVersion"`
	UpdatedAt      int64  `json:"updatedAt"`
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}
