package netsim

//
// Size string parsing/formatting
//

import (
	"fmt"
	"regexp"
	"strconv"
)

var sizeStringPattern = regexp.MustCompile(`^([0-9]+)([A-Za-z]*)$`)

// decimalMultipliers maps decimal SI suffixes to their factor.
var decimalMultipliers = map[string]int64{
	"":  1,
	"K": 1_000,
	"M": 1_000_000,
	"G": 1_000_000_000,
	"T": 1_000_000_000_000,
	"P": 1_000_000_000_000_000,
	"E": 1_000_000_000_000_000_000,
}

// binaryMultipliers maps binary (IEC) suffixes to their factor.
var binaryMultipliers = map[string]int64{
	"Ki": 1 << 10,
	"Mi": 1 << 20,
	"Gi": 1 << 30,
	"Ti": 1 << 40,
	"Pi": 1 << 50,
	"Ei": 1 << 60,
}

// ParseSize converts a size string such as "10K" or "4Gi" to a byte
// count. Parsing is lenient: an unrecognized suffix is treated as
// factor 1 rather than an error.
func ParseSize(s string) (int64, error) {
	m := sizeStringPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("netsim: %q is not a valid size string", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, err
	}
	if mul, ok := binaryMultipliers[m[2]]; ok {
		return n * mul, nil
	}
	if mul, ok := decimalMultipliers[m[2]]; ok {
		return n * mul, nil
	}
	return n, nil
}

// ToSizeString formats n bytes using the decimal suffix for unit (one
// of "", "K", "M", "G", "T", "P", "E"). It is the inverse of ParseSize
// for decimal units, modulo integer-division granularity.
func ToSizeString(n int64, unit string) string {
	mul, ok := decimalMultipliers[unit]
	if !ok {
		mul = 1
	}
	return fmt.Sprintf("%d%s", n/mul, unit)
}
