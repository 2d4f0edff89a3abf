package extract

// SourceKind identifies which of the two supported raw inputs a result came from.
type SourceKind string

const (
	SourceWeb      SourceKind = "web"
	SourceDocument SourceKind = "document"
)

// SourceResult is the outcome of one extraction attempt. Extractors never
// panic or return errors past this boundary; failure is carried in the value.
type SourceResult struct {
	Kind    SourceKind
	Success bool
	Text    string
	Origin  string // URL for web, filename for documents
	Err     string
}

func failure(kind SourceKind, origin string, err error) SourceResult {
	return SourceResult{Kind: kind, Origin: origin, Err: err.Error()}
}
