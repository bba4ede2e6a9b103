package reader

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseObject(t *testing.T) {
	tests := []struct {
		src  string
		want Object
	}{
		{"42", Integer(42)},
		{"-7", Integer(-7)},
		{"+3", Integer(3)},
		{"3.5", Real(3.5)},
		{"-.25", Real(-0.25)},
		{"true", Boolean(true)},
		{"false", Boolean(false)},
		{"null", Null{}},
		{"/Type", Name("Type")},
		{"/A#20B", Name("A B")},
		{"(Hello World)", String{Value: []byte("Hello World")}},
		{"(Hello (nested) World)", String{Value: []byte("Hello (nested) World")}},
		{`(Line1\nLine2\r\t\\\(x\))`, String{Value: []byte("Line1\nLine2\r\t\\(x)")}},
		{`(\101\1010)`, String{Value: []byte("AA0")}},
		{"(split \\\nline)", String{Value: []byte("split line")}},
		{"<48656C6C6F>", String{Value: []byte("Hello"), IsHex: true}},
		{"<4 8 6>", String{Value: []byte{0x48, 0x60}, IsHex: true}},
		{"10 0 R", Reference{Number: 10}},
		{"10 0 RG", Integer(10)},
		{"% comment\n42", Integer(42)},
		{"[1 2.5 /Name (text) 3 0 R]", Array{Integer(1), Real(2.5), Name("Name"), String{Value: []byte("text")}, Reference{Number: 3}}},
		{"[]", Array{}},
		{"<< /Type /Page /Count 3 /Kids [4 0 R] >>", Dict{"Type": Name("Page"), "Count": Integer(3), "Kids": Array{Reference{Number: 4}}}},
		{"<</A<</B 1>>>>", Dict{"A": Dict{"B": Integer(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := newParser([]byte(tt.src)).object()
			if err != nil {
				t.Fatalf("object(%q): %v", tt.src, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("object(%q) = %#v, want %#v", tt.src, got, tt.want)
			}
		})
	}
}

func TestParseObjectErrors(t *testing.T) {
	for _, src := range []string{"", "(open", "<4G>", "[1 2", "<< /A 1", "<< 1 2 >>", "obj", ")", "1.2.3"} {
		if obj, err := newParser([]byte(src)).object(); err == nil {
			t.Errorf("object(%q) = %v, want error", src, obj)
		}
	}
}

func TestContentModeHasNoReferences(t *testing.T) {
	p := newParser([]byte("0 1 R"))
	p.content = true
	if got, err := p.object(); err != nil || got != Integer(0) {
		t.Errorf("content object = %v, %v; want 0", got, err)
	}
}

func TestParseIndirectObject(t *testing.T) {
	obj, err := newParser([]byte("5 2 obj\n<< /Type /Page >>\nendobj")).indirectObject()
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if obj.Reference != (Reference{Number: 5, Generation: 2}) {
		t.Errorf("reference = %v, want 5 2 R", obj.Reference)
	}
	if d, ok := obj.Value.(Dict); !ok || d.GetName("Type") != "Page" {
		t.Errorf("value = %#v", obj.Value)
	}

	if _, err := newParser([]byte("5 x obj 1 endobj")).indirectObject(); err == nil {
		t.Error("bad generation accepted")
	}
	if _, err := newParser([]byte("(x) stream\nabc\nendstream")).indirectObject(); err == nil {
		t.Error("missing header accepted")
	}
}

func TestStreamLength(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		length func(Reference) (int, bool)
		want   string
	}{
		{"direct", "1 0 obj\n<< /Length 3 >>\nstream\nabc\nendstream\nendobj", nil, "abc"},
		{"wrong direct", "1 0 obj\n<< /Length 99 >>\nstream\nabc\nendstream\nendobj", nil, "abc"},
		{"missing", "1 0 obj\n<< >>\nstream\r\nabc\r\nendstream\nendobj", nil, "abc"},
		{"unresolved indirect", "1 0 obj\n<< /Length 7 0 R >>\nstream\nabc\nendstream\nendobj", nil, "abc"},
		{"indirect", "1 0 obj\n<< /Length 7 0 R >>\nstream\nab\ncd\nendstream\nendobj",
			func(ref Reference) (int, bool) { return 5, ref.Number == 7 }, "ab\ncd"},
		{"no endstream", "1 0 obj\n<< >>\nstream\nabc", nil, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newParser([]byte(tt.src))
			p.length = tt.length
			obj, err := p.indirectObject()
			if err != nil {
				t.Fatalf("parsing: %v", err)
			}
			s, ok := obj.Value.(Stream)
			if !ok {
				t.Fatalf("value is %T, want Stream", obj.Value)
			}
			if string(s.Data) != tt.want {
				t.Errorf("data = %q, want %q", s.Data, tt.want)
			}
		})
	}
}

func TestDictHelpers(t *testing.T) {
	d := Dict{
		"Name":  Name("Test"),
		"Count": Integer(5),
		"Scale": Real(1.5),
		"Sub":   Dict{"Key": Name("Value")},
		"Items": Array{Integer(1), Integer(2)},
		"Title": String{Value: []byte("\xfe\xff\x00H\x00i")},
	}
	if d.GetName("Name") != "Test" || d.GetName("Missing") != "" {
		t.Errorf("GetName: %q %q", d.GetName("Name"), d.GetName("Missing"))
	}
	if v, ok := d.GetInt("Count"); !ok || v != 5 {
		t.Errorf("GetInt(Count) = %v, %v", v, ok)
	}
	if v, ok := d.GetInt("Scale"); !ok || v != 1 {
		t.Errorf("GetInt(Scale) = %v, %v", v, ok)
	}
	if sub := d.GetDict("Sub"); sub.GetName("Key") != "Value" {
		t.Errorf("GetDict = %v", sub)
	}
	if arr := d.GetArray("Items"); len(arr) != 2 {
		t.Errorf("GetArray = %v", arr)
	}
	if s := d.GetString("Title"); s != "Hi" {
		t.Errorf("GetString = %q, want Hi", s)
	}
	if c := d.Clone(); !reflect.DeepEqual(c, d) {
		t.Error("Clone differs")
	}
}

func TestRectangleIntersect(t *testing.T) {
	media := Rectangle{0, 0, 600, 800}
	crop := Rectangle{URX: 700, URY: 400, LLX: 100, LLY: -10}
	if got, want := media.Intersect(crop), (Rectangle{100, 0, 600, 400}); got != want {
		t.Errorf("Intersect = %+v, want %+v", got, want)
	}
	if empty := media.Intersect(Rectangle{700, 900, 800, 1000}); empty.Width() != 0 || empty.Height() != 0 {
		t.Errorf("disjoint Intersect = %+v, want empty", empty)
	}
	if got := (Rectangle{10, 20, 0, 0}).Normalize(); got != (Rectangle{0, 0, 10, 20}) {
		t.Errorf("Normalize = %+v", got)
	}
}

func TestPNGPredictor(t *testing.T) {
	// Two rows of three bytes with the "Up" filter.
	data := []byte{2, 1, 2, 3, 2, 1, 1, 1}
	got, err := unpredict(data, Dict{"Predictor": Integer(12), "Columns": Integer(3)})
	if err != nil {
		t.Fatalf("unpredict: %v", err)
	}
	if want := []byte{1, 2, 3, 2, 3, 4}; string(got) != string(want) {
		t.Errorf("unpredict = %v, want %v", got, want)
	}
}

func TestObjectString(t *testing.T) {
	for _, tt := range []struct {
		obj  Object
		want string
	}{
		{Name("Page"), "/Page"},
		{Reference{Number: 3, Generation: 1}, "3 1 R"},
		{String{Value: []byte{0xab}, IsHex: true}, "<ab>"},
		{Boolean(false), "false"},
	} {
		if got := tt.obj.String(); !strings.EqualFold(got, tt.want) {
			t.Errorf("%#v.String() = %q, want %q", tt.obj, got, tt.want)
		}
	}
}
