package domain

import (
	"path"
	"strings"
)

// PathPattern casa caminhos no estilo ant:
//
//   - "/api/v1/auth/login": exato
//   - "/api/v1/*/search": "*" casa um segmento (sintaxe de path.Match)
//   - "/api/v1/auth/**": o próprio prefixo e qualquer coisa abaixo dele
//   - "/**": tudo
type PathPattern struct {
	raw  string
	segs []string
	deep bool
}

func ParsePathPattern(raw string) (PathPattern, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "/") {
		return PathPattern{}, configErrorf("pattern", "%q must start with /", raw)
	}
	p := PathPattern{raw: raw}
	body := raw
	if body == "/**" || strings.HasSuffix(body, "/**") {
		p.deep = true
		body = strings.TrimSuffix(body, "/**")
	}
	p.segs = splitPath(body)
	for _, s := range p.segs {
		if strings.Contains(s, "**") {
			return PathPattern{}, configErrorf("pattern", "%q: ** is only allowed as the last segment", raw)
		}
		if _, err := path.Match(s, ""); err != nil {
			return PathPattern{}, configErrorf("pattern", "%q: %v", raw, err)
		}
	}
	return p, nil
}

func (p PathPattern) String() string { return p.raw }

// Match informa se urlPath casa com o padrão. Barra final é ignorada.
func (p PathPattern) Match(urlPath string) bool {
	segs := splitPath(urlPath)
	if len(segs) < len(p.segs) || (!p.deep && len(segs) != len(p.segs)) {
		return false
	}
	for i, pat := range p.segs {
		if ok, _ := path.Match(pat, segs[i]); !ok {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
