// Package models holds the GORM rows behind the admission repositories.
// Domain types never carry gorm tags; each model converts with ToDomain/FromDomain.
package models
