// Package pathtemplate implements the {{path.to.field}} placeholder
// grammar shared by the context builder's OUTPUT FORMAT block and the
// hook runner's publish_message / spawn_sub_cluster templates.
package pathtemplate

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

// Resolve substitutes every {{path.to.field}} placeholder in tpl against
// data, a tree of nested maps/slices (as produced by encoding/json
// unmarshaling into interface{}). Unknown paths are a hard error rather
// than an empty string, per spec §9 Design notes.
func Resolve(tpl string, data map[string]interface{}) (string, error) {
	t, err := fasttemplate.NewTemplate(tpl, startTag, endTag)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	_, err = t.ExecuteFunc(&buf, func(w io.Writer, tag string) (int, error) {
		val, err := lookup(data, strings.TrimSpace(tag))
		if err != nil {
			return 0, err
		}
		return w.Write([]byte(stringify(val)))
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func lookup(data map[string]interface{}, path string) (interface{}, error) {
	segments := strings.Split(path, ".")
	var cur interface{} = data
	for idx, seg := range segments {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("unknown template path %q (no field %q)", path, strings.Join(segments[:idx+1], "."))
			}
			cur = v
		case []interface{}:
			n, err := strconv.Atoi(seg)
			if err != nil || n < 0 || n >= len(node) {
				return nil, fmt.Errorf("unknown template path %q (bad index %q)", path, seg)
			}
			cur = node[n]
		default:
			return nil, fmt.Errorf("unknown template path %q (cannot descend into %q)", path, seg)
		}
	}
	return cur, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
