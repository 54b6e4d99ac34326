package codec

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/leengari/burpdb/internal/domain/record"
)

func mustCodec(t *testing.T, encoding string, indent int) *Codec {
	t.Helper()
	c, err := New(encoding, indent)
	assert.NilError(t, err)
	return c
}

func TestEncodeGolden(t *testing.T) {
	g := goldie.New(t)

	tests := []struct {
		name    string
		indent  int
		records map[record.ID]record.Record
	}{
		{
			name: "orders",
			records: map[record.ID]record.Record{
				0: record.MustParse(`{"item":"pen","qty":3}`),
				1: record.MustParse(`{"item":"cup"}`),
			},
		},
		{
			name: "numeric_order",
			records: map[record.ID]record.Record{
				100: record.MustParse(`{"n":100}`),
				2:   record.MustParse(`{"n":2}`),
				10:  record.MustParse(`{"n":10}`),
			},
		},
		{
			name:   "indented",
			indent: 2,
			records: map[record.ID]record.Record{
				0: record.MustParse(`{"item":"pen"}`),
				1: record.MustParse(`{"item":"cup"}`),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := mustCodec(t, UTF8, tt.indent).Encode(tt.records)
			assert.NilError(t, err)
			g.Assert(t, tt.name, data)
		})
	}
}

func TestEncodeEmptyMapping(t *testing.T) {
	data, err := mustCodec(t, "", 0).Encode(map[record.ID]record.Record{})
	assert.NilError(t, err)
	assert.Equal(t, string(data), "{}")
}

func TestRoundTripPerEncoding(t *testing.T) {
	records := map[record.ID]record.Record{
		0: record.MustParse(`{"name":"Zoë","note":"<b>&</b>","qty":3,"price":9.5}`),
		7: record.MustParse(`{"nested":{"list":[1,"two",null,true]}}`),
	}

	for _, enc := range SupportedEncodings() {
		t.Run(enc, func(t *testing.T) {
			c := mustCodec(t, enc, 0)
			data, err := c.Encode(records)
			assert.NilError(t, err)

			got, err := c.Decode(data)
			assert.NilError(t, err)
			assert.DeepEqual(t, got, records)
		})
	}
}

func TestUTF16WritesBOM(t *testing.T) {
	data, err := mustCodec(t, UTF16, 0).Encode(map[record.ID]record.Record{})
	assert.NilError(t, err)
	assert.Assert(t, bytes.HasPrefix(data, []byte{0xFF, 0xFE}))
	assert.Equal(t, len(data), 2+2*len("{}"))
}

func TestASCIIEscapesNonASCII(t *testing.T) {
	c := mustCodec(t, ASCII, 0)
	data, err := c.Encode(map[record.ID]record.Record{
		0: record.MustParse(`{"v":"é😀"}`),
	})
	assert.NilError(t, err)
	assert.Equal(t, string(data), `{"0":{"v":"\u00e9\ud83d\ude00"}}`)

	_, err = c.Decode([]byte("{\"0\":{\"v\":\"\xc3\xa9\"}}"))
	assert.ErrorContains(t, err, "non-ascii")
}

func TestLatin1SingleByte(t *testing.T) {
	data, err := mustCodec(t, Latin1, 0).Encode(map[record.ID]record.Record{
		0: record.MustParse(`{"v":"é"}`),
	})
	assert.NilError(t, err)
	assert.Assert(t, bytes.Contains(data, []byte{0xE9}))
}

func TestDecodeFailures(t *testing.T) {
	c := mustCodec(t, UTF8, 0)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", ``, "empty"},
		{"truncated", `{"0":{"item":"pe`, "not valid JSON"},
		{"array", `[{"item":"pen"}]`, "not valid JSON"},
		{"null", `null`, "got null"},
		{"negative key", `{"-1":{}}`, "non-negative"},
		{"word key", `{"first":{}}`, "non-negative"},
		{"padded key", `{"01":{}}`, "canonical"},
		{"scalar value", `{"0":5}`, "record 0"},
		{"trailing data", `{"0":{}} {}`, "unexpected data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode([]byte(tt.in))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestNewDefaultsToUTF8(t *testing.T) {
	c, err := New("", 0)
	assert.NilError(t, err)
	assert.Equal(t, c.Encoding(), UTF8)

	c, err = New(Latin1, 2)
	assert.NilError(t, err)
	assert.Equal(t, c.Encoding(), "latin-1")
}

func TestNewRejectsUnknownEncoding(t *testing.T) {
	_, err := New("ebcdic", 0)
	assert.ErrorContains(t, err, "unsupported encoding")
	assert.Check(t, is.Contains(SupportedEncodings(), "latin-1"))
}

func TestMaxID(t *testing.T) {
	_, ok := MaxID(nil)
	assert.Assert(t, !ok)

	highest, ok := MaxID(map[record.ID]record.Record{3: {}, 11: {}, 0: {}})
	assert.Assert(t, ok)
	assert.Equal(t, highest, record.ID(11))
}
