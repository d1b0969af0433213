// Package models defines the core domain models for the group ledger.
//
// # Models
//
//   - Group: a shared-expense group with one currency
//   - Member: a user admitted to a group, either as its creator or by an accepted Invitation
//   - LedgerEntry: an immutable money-moving event (expense, deposit, settlement)
//   - Invitation: a request for someone to join a group, driven by the membership state machine
//   - User: a registered account
//
// # Design Principles
//
// 1. **Balances are derived**: no model stores a balance; balances are a fold over LedgerEntry values
// 2. **Entries are immutable**: corrections are new compensating entries that reference the original
// 3. **Avoid circular references**: relationships use ID strings instead of pointers
// 4. **Integer money**: amounts are money.Money in minor units, never floats
package models
