// Package document defines the JSON envelope exchanged between the native
// GUI process and the browser view, plus the typed sidebar snapshot that
// travels inside it.
//
// # Overview
//
// Synchronization between the two sides is file-mediated: the native side
// writes one JSON file through a provider, the browser polls the same file
// over local HTTP. This package owns the wire format of that file. The
// field names below are the external interface and must not change.
//
//	{
//	  "timestamp": "2026-08-23T14:02:11.80421-03:00",
//	  "versao": 42,
//	  "dados": { ... arbitrary JSON object ... }
//	}
//
// "versao" starts at 1, increments exactly once per successful write, and
// never decreases within a process; the previous value is read back before
// each write so it also survives restarts.
//
// # Usage Examples
//
// Writing the first document:
//
//	doc := document.New(map[string]any{"a": 1})
//	err := document.Write("web_content/data/sync.json", doc)
//
// Advancing to the next version:
//
//	next := doc.Next(map[string]any{"a": 2})
//	err := document.Write(path, next)
//
// Reading it back:
//
//	doc, err := document.Read(path)
//	payload := doc.Data
//
// # Sidebar Snapshot
//
// Snapshot is the typed payload the sidebar widgets produce: time tracker,
// workflow, notification, and layout state. Its JSON keys are likewise
// fixed (the browser-side scripts read them): "time_tracker", "flowchart",
// "notificacoes", "sidebar". Convert with ToPayload and SnapshotFromPayload
// when moving through the generic "dados" mapping.
package document
