package splitter

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xhad/docqa/internal/models"
)

// Separators are tried in order: paragraph, line, sentence, word, character.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

// sentenceBreak stands in for the space of ". " while splitting, so the period stays
// with its sentence instead of being consumed as a separator.
const sentenceBreak = "\u2028"

var (
	markSentences   = strings.NewReplacer(sentenceBreak, " ", ". ", "."+sentenceBreak)
	unmarkSentences = strings.NewReplacer(sentenceBreak, " ")
)

func separators() []string {
	out := make([]string, len(Separators))
	for i, sep := range Separators {
		if sep == ". " {
			sep = sentenceBreak
		}
		out[i] = sep
	}
	return out
}

type SplitterConfig struct {
	ChunkSize    int // in runes
	ChunkOverlap int
}

type Splitter struct {
	config   SplitterConfig
	splitter textsplitter.RecursiveCharacter
}

func NewWithConfig(config SplitterConfig) (*Splitter, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 500
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 100
	}
	if config.ChunkSize < 0 || config.ChunkOverlap < 0 {
		return nil, fmt.Errorf("chunk size and overlap must not be negative")
	}
	if config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be less than chunk size %d", config.ChunkOverlap, config.ChunkSize)
	}

	return &Splitter{
		config: config,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
			textsplitter.WithSeparators(separators()),
		),
	}, nil
}

func New() *Splitter {
	s, _ := NewWithConfig(SplitterConfig{})
	return s
}

// Split cuts every document into overlapping chunks. Each chunk gets a copy of its
// document's metadata plus chunk_index, its position within that document.
func (s *Splitter) Split(docs []models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk

	for _, doc := range docs {
		texts, err := s.splitter.SplitText(markSentences.Replace(doc.Content))
		if err != nil {
			return nil, fmt.Errorf("failed to split document: %w", err)
		}

		for i, text := range texts {
			meta := models.CopyMetadata(doc.Metadata)
			meta["chunk_index"] = i
			chunks = append(chunks, models.Chunk{
				Content:  unmarkSentences.Replace(text),
				Metadata: meta,
			})
		}
	}

	return chunks, nil
}
