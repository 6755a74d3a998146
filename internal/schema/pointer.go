// Copyright 2024 Lix Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"

	"lix/internal/common"
)

// Pointer is a parsed JSON pointer (RFC 6901) compiled to a jp expression.
type Pointer struct {
	raw      string
	segments []string
	expr     jp.Expr
	// alt treats numeric segments as array indexes; nil when there are none.
	alt jp.Expr
}

// ParsePointer parses "/a/b". A bare property name "a" is accepted as "/a".
func ParsePointer(s string) (*Pointer, error) {
	if s == "" || s == "/" {
		return nil, fmt.Errorf("empty pointer: %w", common.ErrInvalidSchema)
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}

	parts := strings.Split(s[1:], "/")
	segments := make([]string, 0, len(parts))
	expr := jp.R()
	var alt jp.Expr
	numeric := false
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("pointer %q has an empty segment: %w", s, common.ErrInvalidSchema)
		}
		// ~1 before ~0 so that "~01" decodes to "~1"
		seg := strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		segments = append(segments, seg)
		expr = expr.C(seg)
		if _, err := strconv.Atoi(seg); err == nil {
			numeric = true
		}
	}
	if numeric {
		alt = jp.R()
		for _, seg := range segments {
			if i, err := strconv.Atoi(seg); err == nil {
				alt = alt.N(i)
			} else {
				alt = alt.C(seg)
			}
		}
	}
	return &Pointer{raw: s, segments: segments, expr: expr, alt: alt}, nil
}

var segmentEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// EscapeSegment encodes s as a single pointer segment.
func EscapeSegment(s string) string {
	return segmentEscaper.Replace(s)
}

// MustPointer is ParsePointer for constant pointers.
func MustPointer(s string) *Pointer {
	p, err := ParsePointer(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the normalized pointer.
func (p *Pointer) String() string {
	return p.raw
}

// Property returns the top-level property the pointer starts at.
func (p *Pointer) Property() string {
	return p.segments[0]
}

// Get extracts the value at the pointer. A missing path and an explicit
// JSON null both return nil.
func (p *Pointer) Get(doc map[string]any) any {
	if doc == nil {
		return nil
	}
	if v := p.expr.First(doc); v != nil {
		return v
	}
	if p.alt != nil {
		return p.alt.First(doc)
	}
	return nil
}

// Values extracts one value per pointer, in order.
func Values(doc map[string]any, pointers []*Pointer) []any {
	out := make([]any, len(pointers))
	for i, p := range pointers {
		out[i] = p.Get(doc)
	}
	return out
}

// HasNull reports whether any extracted value is null or missing.
func HasNull(values []any) bool {
	for _, v := range values {
		if v == nil {
			return true
		}
	}
	return false
}

// Strings returns the textual form of pointers.
func Strings(pointers []*Pointer) []string {
	out := make([]string, len(pointers))
	for i, p := range pointers {
		out[i] = p.raw
	}
	return out
}
