// Package wire provides cheap, path-based inspection of JSON documents
// exchanged with analysis module instances, grounded on the way the
// teacher's datafeed fetchers pull a single field out of a response body
// via gjson.GetBytes instead of paying for a full unmarshal.
package wire

import "github.com/tidwall/gjson"

// ExtendedCacheKeys extracts the "extended_cache_keys" string array from
// a raw AMT registration document without unmarshaling the rest of the
// payload. Used for cheap logging/validation ahead of the full decode.
func ExtendedCacheKeys(raw []byte) []string {
	result := gjson.GetBytes(raw, "extended_cache_keys")
	if !result.IsArray() {
		return nil
	}
	arr := result.Array()
	keys := make([]string, 0, len(arr))
	for _, v := range arr {
		keys = append(keys, v.String())
	}
	return keys
}

// Field extracts an arbitrary JSON path from a raw document, e.g. a
// field in a module instance's self-reported payload whose shape ACE
// Core otherwise treats as opaque.
func Field(raw []byte, path string) (string, bool) {
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return "", false
	}
	return result.String(), true
}
