package backup

// Translator maps snapshot-local ids to the ids assigned on the target guild. It is
// filled by a single restore and never shared. A missing key means the entity was
// skipped or failed.
type Translator struct {
	ids map[string]string
}

func NewTranslator() *Translator {
	return &Translator{ids: make(map[string]string)}
}

func (t *Translator) Set(local, assigned string) {
	t.ids[local] = assigned
}

func (t *Translator) Get(local string) (string, bool) {
	id, ok := t.ids[local]
	return id, ok
}

func (t *Translator) Has(local string) bool {
	_, ok := t.ids[local]
	return ok
}

// Resolve translates a nullable reference, returning "" when it is nil or unknown.
func (t *Translator) Resolve(ref *string) string {
	if ref == nil {
		return ""
	}
	return t.ids[*ref]
}
