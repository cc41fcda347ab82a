// Package schema describes the types and operations exposed across the
// boundary.
//
// A Schema is built once, from Go declarations or from WIT type
// descriptions, and is immutable afterwards. The codec compiles encoding
// plans from it and the dispatch table checks its bindings against it.
//
//	s := schema.NewBuilder("todolist").
//		Record(schema.RecordDef{Name: "Todo", Fields: []schema.Field{
//			{Name: "title", Type: schema.String},
//		}}).
//		Function(schema.FunctionDef{Name: "count", Return: schema.U32}).
//		MustBuild()
package schema
