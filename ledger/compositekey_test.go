package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeKey_RoundTrip(t *testing.T) {
	key, err := CreateCompositeKey("access_log", []string{"REC1", "REC1_1700000000_tx1"})
	require.NoError(t, err)
	assert.Equal(t, "\x00access_log\x00REC1\x00REC1_1700000000_tx1\x00", key)
	assert.True(t, IsCompositeKey(key))

	objectType, attrs, err := SplitCompositeKey(key)
	require.NoError(t, err)
	assert.Equal(t, "access_log", objectType)
	assert.Equal(t, []string{"REC1", "REC1_1700000000_tx1"}, attrs)

	assert.False(t, IsCompositeKey("REC1"))
	_, _, err = SplitCompositeKey("REC1")
	assert.Error(t, err)
}

func TestCompositeKey_RejectsReservedRunes(t *testing.T) {
	for _, attr := range []string{"a\x00b", "a\U0010FFFFb", string([]byte{0xc3})} {
		_, err := CreateCompositeKey("access_log", []string{attr})
		assert.Error(t, err, "attribute %q", attr)
	}
	_, err := CreateCompositeKey("bad\x00type", nil)
	assert.Error(t, err)
}

func TestPrefixRange_SeparatesSiblingRecords(t *testing.T) {
	prefix, err := CreateCompositeKey("access_log", []string{"REC1"})
	require.NoError(t, err)
	start, end := PrefixRange(prefix)

	own, _ := CreateCompositeKey("access_log", []string{"REC1", "log-a"})
	sibling, _ := CreateCompositeKey("access_log", []string{"REC10", "log-a"})

	assert.True(t, own >= start && own < end)
	assert.False(t, sibling >= start && sibling < end)
}

func TestParseSelector(t *testing.T) {
	sel, err := ParseSelector(`{"selector":{"doc_type":"census_record","current_status":"APPROVED"}}`)
	require.NoError(t, err)
	assert.Equal(t, Selector{"doc_type": "census_record", "current_status": "APPROVED"}, sel)

	assert.True(t, sel.Matches([]byte(`{"doc_type":"census_record","current_status":"APPROVED","version":3}`)))
	assert.False(t, sel.Matches([]byte(`{"doc_type":"census_record","current_status":"REJECTED"}`)))
	assert.False(t, sel.Matches([]byte(`{"doc_type":"census_record"}`)))
	assert.False(t, sel.Matches([]byte(`not json`)))

	containment, err := sel.Containment()
	require.NoError(t, err)
	assert.JSONEq(t, `{"doc_type":"census_record","current_status":"APPROVED"}`, containment)

	for _, q := range []string{`{}`, `{"selector":{}}`, `{"selector":{"version":{"$gt":1}}}`, `nope`} {
		_, err := ParseSelector(q)
		assert.ErrorIs(t, err, ErrUnsupportedSelector, q)
	}
}
