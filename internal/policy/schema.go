package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://schemas.spaceai.dev/policy.json"

var (
	policySchema = compileSchema()
	printer      = message.NewPrinter(language.English)
)

// compileSchema падает при старте: схема вшита в бинарь и не меняется.
func compileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("policy: schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		panic(fmt.Sprintf("policy: schema: %v", err))
	}
	return c.MustCompile(schemaURL)
}

// checkSchema прогоняет документ через схему и раскладывает дерево ошибок в плоский список.
func checkSchema(doc any) []Violation {
	err := policySchema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []Violation{{Path: "", Message: err.Error()}}
	}
	var out []Violation
	collectViolations(verr, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// collectViolations берёт только листья: промежуточные узлы ($ref, properties) лишь группируют.
func collectViolations(e *jsonschema.ValidationError, out *[]Violation) {
	if len(e.Causes) > 0 {
		for _, c := range e.Causes {
			collectViolations(c, out)
		}
		return
	}
	path := instancePointer(e.InstanceLocation)
	// лишние поля адресуем по самому полю, а не по объекту
	if ap, ok := e.ErrorKind.(*kind.AdditionalProperties); ok {
		for _, prop := range ap.Properties {
			*out = append(*out, Violation{Path: path + "/" + escapePointer(prop), Message: "must NOT have additional properties"})
		}
		return
	}
	*out = append(*out, Violation{Path: path, Message: e.ErrorKind.LocalizedString(printer)})
}

func instancePointer(tokens []string) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteByte('/')
		b.WriteString(escapePointer(t))
	}
	return b.String()
}
