package deobfuscator

import (
	"github.com/iancoleman/orderedmap"
)

// Report lists the stage counters in pipeline order, followed by the
// virtualization outcome.
func (r *Result) Report() *orderedmap.OrderedMap {
	o := orderedmap.New()

	o.Set("hex_extracted", r.Stats.HexExtracted)
	o.Set("literals_normalized", r.Stats.LiteralsNormalized)
	o.Set("strings_decrypted", r.Stats.StringsDecrypted)
	o.Set("switches_flattened", r.Stats.SwitchesFlattened)
	o.Set("calls_inlined", r.Stats.CallsInlined)
	o.Set("expressions_folded", r.Stats.ExpressionsFolded)
	o.Set("virtualized", r.Stats.Virtualized)
	if r.VirtualizeErr != nil {
		o.Set("virtualize_error", r.VirtualizeErr.Error())
	}
	o.Set("output_bytes", len(r.Code))

	return o
}
