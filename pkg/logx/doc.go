// Package logx provides the structured logging facade used across conductor.
//
// It wraps zerolog behind a small Logger value type so services never touch
// zerolog directly. The Service supports hot reconfiguration: loggers handed
// out earlier keep working and pick up new sinks/levels on Apply().
package logx
