/*
Package pfsconfig is the YAML-backed configuration surface for the
patch-group and journal knobs an operator is actually expected to tune:
whether atomic groups are allowed, how many transaction slots the journal
reserves, and how large and how often-closed those transactions are.
Load falls back to Default's values for anything the file leaves zero.
patchfsctl passes the slot count, transaction size and data directory on
to the stack it builds; the atomic-group switch and the transaction period
are loaded and reported but not applied.
*/
package pfsconfig
