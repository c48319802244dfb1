package fragments

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// base64Index maps a byte to its 6-bit value, or -1 if the byte is
// not in the alphabet.
var base64Index = func() (ret [256]int8) {
	for i := range ret {
		ret[i] = -1
	}
	for i := range len(base64Alphabet) {
		ret[base64Alphabet[i]] = int8(i)
	}
	return ret
}()

// Base64 decodes base64 text starting at the cursor, stopping in
// front of the '<' that begins the next tag. Whitespace anywhere in
// the encoded run is ignored.
//
// If size is non-negative, it is the decoded length declared by the
// document. The declaration sizes the output buffer, but the actual
// decoded length must still match it exactly. A declared size larger
// than the remaining input could possibly decode to is rejected
// without allocating.
//
// Base64 returns nil, not an error, when the run decodes to zero
// bytes.
func (d *Decoder) Base64(size int) ([]byte, error) {
	start := d.pos
	nominal := size
	if size < 0 {
		nominal = d.base64Len()
	} else if most := (d.end() - d.pos + 3) / 4 * 3; size > most {
		return nil, d.Errorf("declared size %d is larger than the remaining input", size)
	}

	// One extra byte, because the accumulator writes the leading
	// bits of the next byte before the group is complete.
	out := make([]byte, nominal+1)
	n, err := d.decodeBase64(out)
	if err != nil {
		return nil, err
	}
	if size >= 0 && n != size {
		return nil, d.errorAt(start, "declared size %d, but decoded %d bytes", size, n)
	}
	if n == 0 {
		return nil, nil
	}
	return out[:n:n], nil
}

// base64Len returns the nominal decoded length of the base64 run at
// the cursor, without consuming it.
func (d *Decoder) base64Len() int {
	chars := 0
	for _, c := range d.In[d.pos:d.end()] {
		if c == '=' || c == '<' {
			break
		}
		if isSpace(c) {
			continue
		}
		if base64Index[c] < 0 {
			break
		}
		chars++
	}
	return chars * 3 / 4
}

func (d *Decoder) decodeBase64(out []byte) (int, error) {
	var (
		state = 0
		n     = 0
		c     byte
		ok    bool
	)
	put := func(i int, b byte) bool {
		if i >= len(out) {
			return false
		}
		out[i] = b
		return true
	}

	for {
		c, ok = d.peek()
		if !ok {
			return 0, d.Errorf("unexpected end of input in base64 data")
		}
		if c == '=' || c == '<' {
			break
		}
		d.pos++
		if isSpace(c) {
			continue
		}
		v := base64Index[c]
		if v < 0 {
			return 0, d.errorAt(d.pos-1, "invalid base64 character %q", c)
		}
		b := byte(v)
		switch state {
		case 0:
			if !put(n, b<<2) {
				return 0, d.Errorf("base64 data longer than declared size")
			}
			state = 1
		case 1:
			out[n] |= b >> 4
			if !put(n+1, (b&0x0f)<<4) {
				return 0, d.Errorf("base64 data longer than declared size")
			}
			n++
			state = 2
		case 2:
			out[n] |= b >> 2
			if !put(n+1, (b&0x03)<<6) {
				return 0, d.Errorf("base64 data longer than declared size")
			}
			n++
			state = 3
		case 3:
			out[n] |= b
			n++
			state = 0
		}
	}

	if c == '<' {
		if state != 0 {
			return 0, d.Errorf("truncated base64 data")
		}
		return n, nil
	}

	// Padding.
	d.pos++
	switch state {
	case 0, 1:
		return 0, d.errorAt(d.pos-1, "misplaced base64 padding")
	case 2:
		d.SkipSpace()
		if c, ok := d.peek(); !ok {
			return 0, d.Errorf("unexpected end of input in base64 data")
		} else if c != '=' {
			return 0, d.Errorf("unexpected character %q, expected base64 padding", c)
		}
		d.pos++
		fallthrough
	case 3:
		d.SkipSpace()
		if c, ok := d.peek(); !ok {
			return 0, d.Errorf("unexpected end of input in base64 data")
		} else if c != '<' {
			return 0, d.Errorf("unexpected character %q after base64 padding", c)
		}
		// The unused low bits of the final group must be zero.
		if out[n] != 0 {
			return 0, d.Errorf("non-zero trailing bits in base64 data")
		}
	}
	return n, nil
}
