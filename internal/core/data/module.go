package data

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Module is a named blob of content that logged in clients may fetch.
type Module struct {
	ID        uint64 `gorm:"primaryKey"`
	Name      string `gorm:"unique; not null"`
	Version   string
	Content   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FindModuleByName returns the module called name or nil if there is none.
func FindModuleByName(db *gorm.DB, name string) (*Module, error) {
	return first[Module](db.Where("name = ?", name))
}

// FindModules returns every module ordered by name, without their content.
func FindModules(db *gorm.DB) ([]Module, error) {
	var modules []Module
	err := db.Select("id", "name", "version", "created_at", "updated_at").
		Order("name").
		Find(&modules).Error
	return modules, err
}

// SaveModule creates the module or replaces the version and content of an
// existing module with the same name.
func SaveModule(db *gorm.DB, module *Module) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "content", "updated_at"}),
	}).Create(module).Error
}

// DeleteModule removes the module called name.
func DeleteModule(db *gorm.DB, name string) error {
	return db.Where("name = ?", name).Delete(&Module{}).Error
}
