package model

import "strconv"

// DataObjectProjector is a typed, explicit replacement for the
// original rule-engine's string-keyed reflection walk over struct
// fields (design note §9: "replace by an explicit serializer...
// generated at build time from the record definitions, not by
// textual field lookup"). Each entry is a getter closure rather than
// a field-name lookup, so a typo in a variable name is a compile-time
// map-literal mistake, not a runtime reflection miss.
var DataObjectProjector = map[string]func(*DataObjectInfo) string{
	"logicalPath": func(d *DataObjectInfo) string { return d.Object.LogicalPath },
	"objectId":    func(d *DataObjectInfo) string { return strconv.FormatInt(d.Object.ObjectID, 10) },
	"owner":       func(d *DataObjectInfo) string { return d.Object.Owner },
	"dataSize":    func(d *DataObjectInfo) string { return strconv.FormatInt(d.Object.Size, 10) },
	"checksum":    func(d *DataObjectInfo) string { return d.Object.Checksum },
	"dataType":    func(d *DataObjectInfo) string { return d.Object.DataType },
}

// Project looks up variable by name and evaluates it against obj. ok
// is false for an unknown variable name, mirroring the original's
// "variable not found" outcome without panicking.
func Project(variable string, obj *DataObjectInfo) (value string, ok bool) {
	fn, ok := DataObjectProjector[variable]
	if !ok {
		return "", false
	}
	return fn(obj), true
}
