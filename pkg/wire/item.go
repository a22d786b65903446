package wire

// Item is one directory entry: leaf filename, an ls(1)-style long name, and
// the entry's attributes, per spec.md §3.
type Item struct {
	Filename string
	Longname string
	Attrs    Attr
}

// WriteName encodes a NAME response body: a count followed by that many
// (filename, longname, attrs) tuples, per spec.md §4.D.
func WriteName(w *Writer, items []Item) {
	w.WriteUint32(uint32(len(items)))
	for _, it := range items {
		w.WriteString(it.Filename)
		w.WriteString(it.Longname)
		w.WriteAttr(&it.Attrs)
	}
}

// ReadName decodes a NAME response body.
func ReadName(r *Reader) ([]Item, error) {
	count, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, count)
	for i := uint32(0); i < count; i++ {
		fn, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		ln, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		a, err := r.ReadAttr()
		if err != nil {
			return nil, err
		}
		items = append(items, Item{Filename: fn, Longname: ln, Attrs: *a})
	}
	return items, nil
}
