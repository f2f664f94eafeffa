//go:build !linux

package probes

// On non-Linux hosts there is no registered platformUnitServices
// implementation; CollectUnitServices falls back to an empty list.
