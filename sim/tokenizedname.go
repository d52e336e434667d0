package sim

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
)

// ErrInvalidName is returned for names that break the naming convention.
var ErrInvalidName = errors.New("invalid name")

// A Name is a hierarchical name such as "Array.Drive[1].HostLink".
type Name struct {
	Tokens []NameToken
}

// NameToken is one dot-separated element of a name.
type NameToken struct {
	ElemName string
	Index    []int
}

func (t NameToken) String() string {
	var b strings.Builder

	b.WriteString(t.ElemName)
	for _, i := range t.Index {
		fmt.Fprintf(&b, "[%d]", i)
	}

	return b.String()
}

func (n Name) String() string {
	tokens := make([]string, len(n.Tokens))
	for i, t := range n.Tokens {
		tokens[i] = t.String()
	}

	return strings.Join(tokens, ".")
}

// Parent returns the name without its last element. The parent of a single
// element name is empty.
func (n Name) Parent() Name {
	if len(n.Tokens) == 0 {
		return n
	}

	return Name{Tokens: n.Tokens[:len(n.Tokens)-1]}
}

// ParseName parses a name. It does not check the naming convention beyond
// what is needed to find the indices.
func ParseName(sname string) (Name, error) {
	elems := strings.Split(sname, ".")
	name := Name{Tokens: make([]NameToken, len(elems))}

	for i, elem := range elems {
		token, err := parseNameToken(elem)
		if err != nil {
			return Name{}, err
		}

		name.Tokens[i] = token
	}

	return name, nil
}

func parseNameToken(elem string) (NameToken, error) {
	open := strings.IndexByte(elem, '[')
	if open < 0 {
		if strings.ContainsRune(elem, ']') {
			return NameToken{}, fmt.Errorf("%w: unpaired ] in %q",
				ErrInvalidName, elem)
		}

		return NameToken{ElemName: elem}, nil
	}

	token := NameToken{ElemName: elem[:open]}

	rest := elem[open:]
	for rest != "" {
		end := strings.IndexByte(rest, ']')
		if rest[0] != '[' || end < 0 {
			return NameToken{}, fmt.Errorf("%w: unpaired brackets in %q",
				ErrInvalidName, elem)
		}

		index, err := strconv.Atoi(rest[1:end])
		if err != nil {
			return NameToken{}, fmt.Errorf("%w: index of %q must be an integer",
				ErrInvalidName, elem)
		}

		token.Index = append(token.Index, index)
		rest = rest[end+1:]
	}

	return token, nil
}

// ValidateName checks the naming convention. Names are dot separated, every
// element is non-empty CamelCase starting with a capital letter, and
// elements of a series carry a square-bracket index.
func ValidateName(name string) error {
	n, err := ParseName(name)
	if err != nil {
		return err
	}

	for _, token := range n.Tokens {
		if err := validateToken(token); err != nil {
			return fmt.Errorf("name %q: %w", name, err)
		}
	}

	return nil
}

func validateToken(token NameToken) error {
	if token.ElemName == "" {
		return fmt.Errorf("%w: empty element", ErrInvalidName)
	}

	if i := strings.IndexAny(token.ElemName, "_\"'- "); i >= 0 {
		return fmt.Errorf("%w: element %q contains %q",
			ErrInvalidName, token.ElemName, token.ElemName[i])
	}

	if token.ElemName[0] < 'A' || token.ElemName[0] > 'Z' {
		return fmt.Errorf("%w: element %q must start with a capital letter",
			ErrInvalidName, token.ElemName)
	}

	return nil
}

// NameMustBeValid panics if the name does not follow the naming convention.
func NameMustBeValid(name string) {
	if err := ValidateName(name); err != nil {
		log.Panic(err)
	}
}

// BuildName builds a name from a parent name and an element name.
func BuildName(parentName, elementName string) string {
	if parentName == "" {
		return elementName
	}

	return parentName + "." + elementName
}

// BuildNameWithIndex builds a name from a parent name, an element name and an
// index.
func BuildNameWithIndex(parentName, elementName string, index int) string {
	return BuildName(parentName, elementName+"["+strconv.Itoa(index)+"]")
}
