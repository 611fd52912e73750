package render

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/ferry/bytefmt"
)

const (
	columnGap    = "  "
	maxCellWidth = 60
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#64748B"))
)

// table is either a list (header plus rows) or a record (key/value pairs,
// header unset).
type table struct {
	header []string
	rows   [][]string
	empty  bool
}

// tabulate flattens data into a table. Slices become one row per element,
// structs and maps become records, anything else a single value.
func tabulate(data any) table {
	v := deref(reflect.ValueOf(data))
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return table{empty: true}
		}
		return listTable(v)
	case reflect.Struct:
		var rows [][]string
		for _, col := range structColumns(v.Type()) {
			rows = append(rows, []string{col.name + ":", col.cell(v)})
		}
		return table{rows: rows}
	case reflect.Map:
		var rows [][]string
		for _, k := range stringKeys(v) {
			rows = append(rows, []string{k + ":", cell(lookup(v, k))})
		}
		return table{rows: rows}
	case reflect.Invalid:
		return table{}
	default:
		return table{rows: [][]string{{cell(v)}}}
	}
}

func listTable(v reflect.Value) table {
	first := deref(v.Index(0))
	var t table
	switch first.Kind() {
	case reflect.Struct:
		cols := structColumns(first.Type())
		for _, c := range cols {
			t.header = append(t.header, c.name)
		}
		for i := range v.Len() {
			elem := deref(v.Index(i))
			row := make([]string, len(cols))
			if elem.IsValid() {
				for j, c := range cols {
					row[j] = c.cell(elem)
				}
			}
			t.rows = append(t.rows, row)
		}
	case reflect.Map:
		// Rows may carry different keys; the header is their sorted union.
		for i := range v.Len() {
			for _, k := range stringKeys(deref(v.Index(i))) {
				if !slices.Contains(t.header, k) {
					t.header = append(t.header, k)
				}
			}
		}
		slices.Sort(t.header)
		for i := range v.Len() {
			elem := deref(v.Index(i))
			row := make([]string, len(t.header))
			for j, k := range t.header {
				row[j] = cell(lookup(elem, k))
			}
			t.rows = append(t.rows, row)
		}
	default:
		t.header = []string{"value"}
		for i := range v.Len() {
			t.rows = append(t.rows, []string{cell(v.Index(i))})
		}
	}
	return t
}

// column is one exported struct field.
type column struct {
	index int
	name  string
	bytes bool
}

func (c column) cell(v reflect.Value) string {
	f := v.Field(c.index)
	if c.bytes && f.CanInt() {
		return bytefmt.Format(f.Int())
	}
	return cell(f)
}

// structColumns names fields by their json tag, falling back to the
// lowercased field name. A render:"bytes" tag humanizes integer sizes.
func structColumns(t reflect.Type) []column {
	var cols []column
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		cols = append(cols, column{index: i, name: name, bytes: f.Tag.Get("render") == "bytes"})
	}
	return cols
}

func cell(v reflect.Value) string {
	v = deref(v)
	if !v.IsValid() {
		return ""
	}
	switch x := v.Interface().(type) {
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.UTC().Format(time.RFC3339)
	case time.Duration:
		return x.Round(time.Millisecond).String()
	case []string:
		return strings.Join(x, ",")
	case fmt.Stringer:
		return x.String()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	case reflect.Float32, reflect.Float64:
		// Decoded JSON numbers arrive as floats.
		if f := v.Float(); f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%g", v.Float())
	default:
		return fmt.Sprint(v.Interface())
	}
}

func deref(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func lookup(m reflect.Value, key string) reflect.Value {
	if m.Kind() != reflect.Map || m.Type().Key().Kind() != reflect.String {
		return reflect.Value{}
	}
	return m.MapIndex(reflect.ValueOf(key).Convert(m.Type().Key()))
}

func stringKeys(m reflect.Value) []string {
	if m.Kind() != reflect.Map || m.Type().Key().Kind() != reflect.String {
		return nil
	}
	keys := make([]string, 0, m.Len())
	for _, k := range m.MapKeys() {
		keys = append(keys, k.String())
	}
	slices.Sort(keys)
	return keys
}

// writeTable pads every column to its widest cell. Cells are measured
// before styling so color codes never shift alignment.
func (r *Renderer) writeTable(t table) error {
	if t.empty {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}

	lines := t.rows
	if t.header != nil {
		lines = append([][]string{t.header}, t.rows...)
	}
	var widths []int
	for _, line := range lines {
		for i, c := range line {
			w := lipgloss.Width(truncate(c))
			if i >= len(widths) {
				widths = append(widths, w)
			} else if w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for n, line := range lines {
		for i, c := range line {
			c = truncate(c)
			if i < len(line)-1 {
				c += strings.Repeat(" ", widths[i]-lipgloss.Width(c))
			}
			switch {
			case r.color && t.header != nil && n == 0:
				c = headerStyle.Render(c)
			case r.color && t.header == nil && i == 0:
				c = keyStyle.Render(c)
			}
			if i > 0 {
				b.WriteString(columnGap)
			}
			b.WriteString(c)
		}
		b.WriteByte('\n')
	}
	_, err := fmt.Fprint(r.out, b.String())
	return err
}

func truncate(s string) string {
	if lipgloss.Width(s) <= maxCellWidth {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > maxCellWidth {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
