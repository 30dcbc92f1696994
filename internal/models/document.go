package models

// Document is the raw text of one loaded source (a file, a PDF page, a web page).
type Document struct {
	Content  string
	Metadata map[string]interface{}
}

// Chunk is a bounded slice of a Document's text. Score is only set on retrieval.
type Chunk struct {
	Content  string
	Metadata map[string]interface{}
	Score    float32
}

// Turn is a single question/answer exchange in a chat front end.
type Turn struct {
	Query  string
	Chunks []Chunk
	Answer string
}

// Source returns the "source" metadata value, or "" when absent.
func (c Chunk) Source() string {
	if s, ok := c.Metadata["source"].(string); ok {
		return s
	}
	return ""
}

// Excerpt returns at most n runes of the chunk's content.
func (c Chunk) Excerpt(n int) string {
	r := []rune(c.Content)
	if len(r) <= n {
		return c.Content
	}
	return string(r[:n])
}

// CopyMetadata returns a shallow copy of m that is safe to extend.
func CopyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
