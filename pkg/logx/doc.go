// Package logx is a thin structured logging facade over zerolog.
//
// It exists so services can take a Logger by value, derive scoped loggers
// with With(), and stay silent when handed the zero value (tests).
package logx
