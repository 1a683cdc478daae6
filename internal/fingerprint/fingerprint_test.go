package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talemon/core/internal/hashutil"
)

func TestContentHashIsRawSHA1(t *testing.T) {
	fp := New(nil)
	body := []byte("<html><body>Hello</body></html>")

	r1, err := fp.Fingerprint(body)
	require.NoError(t, err)
	r2, err := fp.Fingerprint(body)
	require.NoError(t, err)

	assert.Equal(t, r1.ContentHash, r2.ContentHash)
	assert.Len(t, r1.ContentHash, 40)
	assert.Equal(t, hashutil.SHA1Hex(body), r1.ContentHash)
}

// Determinism: identical input and config produce a bit-identical hash
// across repeated invocations.
func TestCleanHashDeterministic(t *testing.T) {
	fp := New(nil)
	body := []byte(`<html><body><p class="x">Hello <b>World</b></p></body></html>`)

	r1, err := fp.Fingerprint(body)
	require.NoError(t, err)
	r2, err := fp.Fingerprint(body)
	require.NoError(t, err)

	assert.Equal(t, r1.CleanHash, r2.CleanHash)
	assert.Len(t, r1.CleanHash, 40)
}

// Noise invariance: inserting a noise-tagged element must not change
// clean_hash.
func TestCleanHashIgnoresScriptNoise(t *testing.T) {
	fp := New(nil)
	clean := []byte("<html><body>Hello</body></html>")
	withScript := []byte("<html><body>Hello<script>x=1</script></body></html>")

	r1, err := fp.Fingerprint(clean)
	require.NoError(t, err)
	r2, err := fp.Fingerprint(withScript)
	require.NoError(t, err)

	assert.Equal(t, r1.CleanHash, r2.CleanHash)
	assert.NotEqual(t, r1.ContentHash, r2.ContentHash)
}

func TestCleanHashIgnoresAdContainers(t *testing.T) {
	fp := New(nil)
	clean := []byte(`<html><body><p>Article text</p></body></html>`)
	withAd := []byte(`<html><body><p>Article text</p><div class="ad">buy now</div></body></html>`)

	r1, err := fp.Fingerprint(clean)
	require.NoError(t, err)
	r2, err := fp.Fingerprint(withAd)
	require.NoError(t, err)

	assert.Equal(t, r1.CleanHash, r2.CleanHash)
}

func TestCleanHashIgnoresAdIDSubstring(t *testing.T) {
	fp := New(nil)
	clean := []byte(`<html><body><p>Article text</p></body></html>`)
	withAd := []byte(`<html><body><p>Article text</p><div id="top-ad-banner">buy now</div></body></html>`)

	r1, err := fp.Fingerprint(clean)
	require.NoError(t, err)
	r2, err := fp.Fingerprint(withAd)
	require.NoError(t, err)

	assert.Equal(t, r1.CleanHash, r2.CleanHash)
}

func TestCleanHashChangesOnRealContentChange(t *testing.T) {
	fp := New(nil)
	a := []byte("<html><body>Hello</body></html>")
	b := []byte("<html><body>Goodbye</body></html>")

	r1, err := fp.Fingerprint(a)
	require.NoError(t, err)
	r2, err := fp.Fingerprint(b)
	require.NoError(t, err)

	assert.NotEqual(t, r1.CleanHash, r2.CleanHash)
}

func TestCleanHashCollapsesWhitespace(t *testing.T) {
	fp := New(nil)
	a := []byte("<html><body>Hello   World</body></html>")
	b := []byte("<html><body>Hello\n\n  World</body></html>")

	r1, err := fp.Fingerprint(a)
	require.NoError(t, err)
	r2, err := fp.Fingerprint(b)
	require.NoError(t, err)

	assert.Equal(t, r1.CleanHash, r2.CleanHash)
}

func TestFingerprintRejectsInvalidUTF8(t *testing.T) {
	fp := New(nil)
	_, err := fp.Fingerprint([]byte{0xff, 0xfe, 0xfd})
	assert.Error(t, err)
}

func TestFingerprintToleratesMalformedMarkup(t *testing.T) {
	fp := New(nil)
	malformed := []byte("<html><body><p>Unclosed paragraph<div>Nested without closing")
	_, err := fp.Fingerprint(malformed)
	assert.NoError(t, err)
}

func TestCleanedDOMStripsNoiseTags(t *testing.T) {
	fp := New(nil)
	body := []byte("<html><body><p>Hello</p><script>x=1</script></body></html>")

	cleaned, err := fp.CleanedDOM(body)
	require.NoError(t, err)
	assert.NotContains(t, string(cleaned), "<script")
	assert.Contains(t, string(cleaned), "Hello")
}
