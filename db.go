package main

import (
	"log"

	"github.com/mufa2906/uangku/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

func initDB(cfg *Config) {
	var err error
	if cfg.DB.DSN == "" {
		log.Fatal("db.dsn is not set. Provide a Postgres DSN (or a sqlite path with db.driver=sqlite).")
	}
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	switch cfg.DB.Driver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.DB.DSN), gcfg)
	default:
		db, err = gorm.Open(postgres.Open(cfg.DB.DSN), gcfg)
	}
	if err != nil {
		log.Fatalf("failed to connect %s database: %v", cfg.DB.Driver, err)
	}

	if cfg.DB.AutoMigrate {
		// Migrate the roles master table first and seed it so the users FK
		// can be applied safely.
		if err := db.AutoMigrate(&models.Role{}); err != nil {
			log.Printf("migration warning (roles): %v", err)
		}
		seedRoles()

		// Migrate models individually so a failure on one doesn't block others
		for _, m := range []interface{}{
			&models.User{},
			&models.RefreshToken{},
			&models.Wallet{},
			&models.Category{},
			&models.Budget{},
			&models.Transaction{},
		} {
			if err := db.AutoMigrate(m); err != nil {
				log.Printf("migration warning (%T): %v", m, err)
			}
		}
	}
	seedDB()
}

func seedRoles() {
	roles := []models.Role{{Name: "administrator", Description: "full access"}, {Name: "user", Description: "regular user"}}
	for _, r := range roles {
		var cnt int64
		db.Model(&models.Role{}).Where("name = ?", r.Name).Count(&cnt)
		if cnt == 0 {
			db.Create(&r)
		}
	}
}

func seedDB() {
	seedRoles()

	// Check if admin user exists
	var count int64
	db.Model(&models.User{}).Where("username = ?", "admin").Count(&count)
	if count == 0 {
		var role models.Role
		if err := db.Where("name = ?", "administrator").First(&role).Error; err != nil {
			log.Printf("failed to find administrator role: %v", err)
		}
		rid := role.ID
		admin := models.User{
			Username: "admin",
			RoleID:   &rid,
		}
		hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
		admin.HashedPassword = hashedPassword
		db.Create(&admin)
		log.Println("Seeded admin user: username=admin, password=admin123")
	}
	// Ensure admin has a default cash wallet
	var admin models.User
	if err := db.Where("username = ?", "admin").First(&admin).Error; err != nil {
		log.Printf("failed to find admin user after seeding: %v", err)
		return
	}
	var wcount int64
	db.Model(&models.Wallet{}).Where("user_id = ?", admin.ID).Count(&wcount)
	if wcount == 0 {
		wallet := models.Wallet{UserID: admin.ID, Name: "Cash", Currency: "IDR", IsActive: true}
		if err := db.Create(&wallet).Error; err != nil {
			log.Printf("failed to create wallet for admin: %v", err)
		} else {
			log.Println("Seeded admin cash wallet for user id:", admin.ID)
		}
	}
}
