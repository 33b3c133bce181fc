package enrich

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/brunobiangulo/lexgraph/segment"
)

// Text is a string field that also accepts JSON numbers and null. Models
// frequently return fine amounts as numbers.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if f, err := n.Float64(); err == nil && f == float64(int64(f)) {
		*t = Text(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*t = Text(n.String())
	return nil
}

// Obligation is a duty that must be performed.
type Obligation struct {
	Actor      Text `json:"actor"`
	Action     Text `json:"action"`
	Conditions Text `json:"conditions"`
	SourceSpan Text `json:"source_span"`
}

// Power is an action an authority may take.
type Power struct {
	Actor      Text `json:"actor"`
	Action     Text `json:"action"`
	Conditions Text `json:"conditions"`
	SourceSpan Text `json:"source_span"`
}

// Penalty is a legal consequence such as imprisonment or a fine.
type Penalty struct {
	Subject      Text `json:"subject"`
	Description  Text `json:"description"`
	Imprisonment Text `json:"imprisonment"`
	FineAmount   Text `json:"fine_amount"`
	SourceSpan   Text `json:"source_span"`
}

// Right is an explicit right granted to a holder.
type Right struct {
	Holder      Text `json:"holder"`
	Description Text `json:"description"`
	Conditions  Text `json:"conditions"`
	SourceSpan  Text `json:"source_span"`
}

// Extraction holds the five typed lists produced for one section.
type Extraction struct {
	Roles       []string     `json:"roles"`
	Obligations []Obligation `json:"obligations"`
	Powers      []Power      `json:"powers"`
	Penalties   []Penalty    `json:"penalties"`
	Rights      []Right      `json:"rights"`
}

// Empty reports whether all five lists are empty.
func (e Extraction) Empty() bool {
	return len(e.Roles) == 0 && len(e.Obligations) == 0 && len(e.Powers) == 0 &&
		len(e.Penalties) == 0 && len(e.Rights) == 0
}

// EnrichedSection is an annotated section with its semantic extraction.
type EnrichedSection struct {
	segment.AnnotatedSection
	Extraction

	LLMUsed  bool   `json:"llm_used"`
	LLMModel string `json:"llm_model,omitempty"`
}

// Merge folds ext into sec. Roles are unioned case-insensitively and kept
// sorted; the other lists are appended. LLMUsed reflects the merged state.
func Merge(sec *EnrichedSection, ext Extraction, model string) {
	sec.Roles = unionRoles(sec.Roles, ext.Roles)
	sec.Obligations = append(sec.Obligations, ext.Obligations...)
	sec.Powers = append(sec.Powers, ext.Powers...)
	sec.Penalties = append(sec.Penalties, ext.Penalties...)
	sec.Rights = append(sec.Rights, ext.Rights...)

	sec.LLMUsed = !sec.Extraction.Empty()
	if sec.LLMUsed {
		if model != "" {
			sec.LLMModel = model
		}
	} else {
		sec.LLMModel = ""
	}
}

func unionRoles(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	var out []string
	for _, list := range [][]string{existing, incoming} {
		for _, r := range list {
			r = strings.TrimSpace(r)
			key := strings.ToLower(r)
			if r == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}
