// Package maskedaes decrypts AES-256-CTR firmware images while resisting
// first- and second-order power/EM side-channel analysis. The key is only
// ever handled in a 4-way-shared representation, the AES state is
// processed as algebraic shares under randomized permutations, the
// physical block processing order is decorrelated from logical block
// numbers, and same-secret accesses are separated by chaff operations.
//
// A caution that applies to every deployment: instruction-level ordering
// to suppress power leakage is inherently tied to the executing hardware's
// microarchitecture. The barrier discipline implemented here captures the
// required independence and spacing between touches of complementary
// shares, but no source-level structure can guarantee what a given
// pipeline's load buffering does. Any deployment target must be validated
// empirically with statistical leak detection; this package's
// countermeasures are necessary, not sufficient.
//
// The design targets practical resistance against first- and second-order
// analysis with a bounded number of traces. It does not defend against
// invasive or optical extraction of stored secrets, nor against
// third-order-or-higher statistical attacks given unlimited traces.
package maskedaes
