// Package corpus reads sentence-aligned parallel text into word-id pairs.
package corpus

// NullWord is the token reserved for id 0 in every vocabulary. On the
// english side it names the NULL row of the translation table.
const NullWord = "<null>"

// Vocab maps between words and integer ids. Id 0 is always NullWord.
type Vocab struct {
	ToID  map[string]int `json:"to_id"`
	ToStr []string       `json:"to_str"`
}

// NewVocab creates a vocabulary holding only NullWord.
func NewVocab() *Vocab {
	v := &Vocab{ToID: make(map[string]int)}
	v.Add(NullWord)
	return v
}

// Add adds a word if not already present and returns its id.
func (v *Vocab) Add(s string) int {
	if id, ok := v.ToID[s]; ok {
		return id
	}
	id := len(v.ToStr)
	v.ToID[s] = id
	v.ToStr = append(v.ToStr, s)
	return id
}

// Get returns the id of a word, or -1 if not found.
func (v *Vocab) Get(s string) int {
	if id, ok := v.ToID[s]; ok {
		return id
	}
	return -1
}

// Lookup returns the id of a word. Unknown words get Size(), an id no
// table trained on this vocabulary has seen.
func (v *Vocab) Lookup(s string) int {
	if id, ok := v.ToID[s]; ok {
		return id
	}
	return v.Size()
}

// Word returns the word for id, or "" if out of range.
func (v *Vocab) Word(id int) string {
	if id < 0 || id >= len(v.ToStr) {
		return ""
	}
	return v.ToStr[id]
}

// Size returns the number of entries, NullWord included.
func (v *Vocab) Size() int {
	return len(v.ToStr)
}

// MaxID returns the largest id in use.
func (v *Vocab) MaxID() int {
	return len(v.ToStr) - 1
}
