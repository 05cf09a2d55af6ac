// Package identifier generates collision-resistant identifiers for
// synchronization targets and content streams.
package identifier

import (
	"errors"
	"regexp"
	"strings"

	"github.com/mrsimpson/piddie-sync/pkg/encoding"
	"github.com/mrsimpson/piddie-sync/pkg/random"
)

const (
	// PrefixTarget is the prefix used for sync target identifiers.
	PrefixTarget = "targ"
	// PrefixStream is the prefix used for content stream identifiers.
	PrefixStream = "strm"

	// requiredPrefixLength is the required length for identifier prefixes.
	requiredPrefixLength = 4
	// collisionResistantLength is the number of random bytes needed to
	// ensure collision-resistance in an identifier.
	collisionResistantLength = 32
	// targetBase62Length is the target length for the Base62-encoded
	// portion of the identifier: the maximum length a collisionResistantLength
	// byte array can take in Base62, i.e. ceil(n*8*ln(2)/ln(62)).
	targetBase62Length = 43
)

// matcher is a regular expression that matches identifiers produced by New.
var matcher = regexp.MustCompile("^[a-z]{4}_[0-9a-zA-Z]{43}$")

// New generates a new collision-resistant identifier with the specified
// prefix. The prefix should have a length of requiredPrefixLength.
func New(prefix string) (string, error) {
	// Ensure that the prefix length is correct.
	if len(prefix) != requiredPrefixLength {
		return "", errors.New("incorrect prefix length")
	}

	// Ensure that each prefix character is allowed.
	for _, r := range prefix {
		if !('a' <= r && r <= 'z') {
			return "", errors.New("invalid prefix character")
		}
	}

	// Generate the random component.
	value, err := random.New(collisionResistantLength)
	if err != nil {
		return "", err
	}

	// Encode it using Base62. As a sanity check, ensure the encoded value
	// doesn't exceed the target length.
	encoded := encoding.EncodeBase62(value)
	if len(encoded) > targetBase62Length {
		panic("encoded random data length longer than expected")
	}

	builder := &strings.Builder{}
	builder.WriteString(prefix)
	builder.WriteRune('_')

	// Left-pad with the Base62 zero digit if the encoded value came in
	// shorter than the target length.
	for i := targetBase62Length - len(encoded); i > 0; i-- {
		builder.WriteByte(encoding.Base62Alphabet[0])
	}
	builder.WriteString(encoded)

	return builder.String(), nil
}

// IsValid determines whether a string is a validly formed identifier.
func IsValid(value string) bool {
	return matcher.MatchString(value)
}
