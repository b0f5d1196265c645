// Package hap models the target home-automation protocol object graph.
//
// An Accessory exposes Services, and each Service owns typed
// Characteristics. Characteristics carry protocol metadata (format, perms,
// unit, range) and route controller reads and writes to handlers installed
// by the mapping layer. The network layer (pairing, encryption, mDNS) is
// out of scope; transports drive the graph through HandleGet and HandleSet.
//
//	┌────────────────────── Accessory ──────────────────────┐
//	│ UUID · Name · Category                                │
//	│  ┌──────────────────────┐   ┌──────────────────────┐  │
//	│  │ AccessoryInformation │   │ Lightbulb (subtype)  │  │
//	│  │  Name · Model · …    │   │  On ◀─ OnGet/OnSet   │  │
//	│  └──────────────────────┘   │  Brightness          │  │
//	│                             └──────────────────────┘  │
//	└───────────────────────────────────────────────────────┘
//
// # Thread Safety
//
// All types are safe for concurrent use. Change listeners are invoked
// synchronously, outside internal locks, in registration order.
package hap
