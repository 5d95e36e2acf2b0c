// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package keys

import (
	"bufio"
	"strings"
)

// ParseColonListing parses a GnuPG "--with-colons" key listing as produced by
// gpg (pub/sec records) or gpgsm (crt/crs records).
//
// Only the fields the resolver needs are read: record validity (field 2),
// capabilities (field 12), the primary fingerprint (first fpr record after
// the primary) and mail addresses from uid records (field 10).
func ParseColonListing(protocol Protocol, data string) []Key {
	var (
		out   []Key
		cur   *Key
		inSub bool
	)
	flush := func() {
		if cur != nil && cur.Fingerprint != "" {
			out = append(out, *cur)
		}
		cur = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ":")
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "pub", "sec", "crt", "crs":
			flush()
			cur = &Key{
				Protocol:  protocol,
				HasSecret: fields[0] == "sec" || fields[0] == "crs",
			}
			inSub = false
			applyValidity(cur, field(fields, 1))
			applyCapabilities(cur, field(fields, 11))
		case "sub", "ssb":
			inSub = true
		case "fpr":
			if cur != nil && !inSub && cur.Fingerprint == "" {
				cur.Fingerprint = strings.ToUpper(field(fields, 9))
			}
		case "uid":
			if cur == nil {
				continue
			}
			if m := mailboxFromUserID(unescapeColon(field(fields, 9))); m != "" && !cur.HasMailbox(m) {
				cur.Mailboxes = append(cur.Mailboxes, m)
			}
		}
	}
	flush()
	return out
}

func field(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

func applyValidity(k *Key, v string) {
	switch v {
	case "i":
		k.Invalid = true
	case "d":
		k.Disabled = true
	case "r":
		k.Revoked = true
	case "e":
		k.Expired = true
	case "q":
		k.Validity = ValidityUndefined
	case "n":
		k.Validity = ValidityNever
	case "m":
		k.Validity = ValidityMarginal
	case "f":
		k.Validity = ValidityFull
	case "u":
		k.Validity = ValidityUltimate
	}
}

// Upper-case letters describe the usability of the key as a whole.
func applyCapabilities(k *Key, caps string) {
	k.CanSign = strings.ContainsRune(caps, 'S')
	k.CanEncrypt = strings.ContainsRune(caps, 'E')
	if strings.ContainsRune(caps, 'D') {
		k.Disabled = true
	}
}

func mailboxFromUserID(uid string) Mailbox {
	if strings.Contains(uid, "<") {
		return NormalizeMailbox(uid)
	}
	if strings.Contains(uid, "@") && !strings.Contains(uid, "=") {
		return NormalizeMailbox(uid)
	}
	return ""
}

func unescapeColon(s string) string {
	if !strings.Contains(s, `\x`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if b, ok := hexByte(s[i+2], s[i+3]); ok {
				sb.WriteByte(b)
				i += 3
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func hexByte(hi, lo byte) (byte, bool) {
	h, ok1 := hexVal(hi)
	l, ok2 := hexVal(lo)
	return h<<4 | l, ok1 && ok2
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
