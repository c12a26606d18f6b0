// Package countries holds the country-specific half of the appointment saga:
// the per-country detail stores, schedule resolution, and the processor that
// consumes a country's fan-out partition.
package countries
