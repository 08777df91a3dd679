package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/mufa2906/uangku/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupRoutes(r *gin.Engine) {
	r.GET("/healthz", healthzHandler)
	r.POST("/register", registerHandler)
	r.POST("/login", loginHandler)
	r.POST("/refresh", refreshHandler)
	r.POST("/revoke_refresh", revokeRefreshHandler)
	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("/me", meHandler)
	authGroup.POST("/wallets", createWalletHandler)
	authGroup.GET("/wallets", listWalletsHandler)
	authGroup.GET("/wallets/:id", getWalletHandler)
	authGroup.PUT("/wallets/:id", updateWalletHandler)
	authGroup.DELETE("/wallets/:id", deactivateWalletHandler)
	authGroup.GET("/wallets/:id/summary", walletSummaryHandler)
	authGroup.POST("/categories", createCategoryHandler)
	authGroup.GET("/categories", listCategoriesHandler)
	authGroup.PUT("/categories/:id", updateCategoryHandler)
	authGroup.DELETE("/categories/:id", deleteCategoryHandler)
	authGroup.POST("/transactions", createTransactionHandler)
	authGroup.GET("/transactions", listTransactionsHandler)
	authGroup.GET("/transactions/:id", getTransactionHandler)
	authGroup.PUT("/transactions/:id", updateTransactionHandler)
	authGroup.DELETE("/transactions/:id", deleteTransactionHandler)
	authGroup.POST("/budgets", createBudgetHandler)
	authGroup.GET("/budgets", listBudgetsHandler)
	authGroup.GET("/budgets/:id", getBudgetHandler)
	authGroup.PUT("/budgets/:id", updateBudgetHandler)
	authGroup.DELETE("/budgets/:id", deleteBudgetHandler)
}

func healthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		tokenString := authHeader[7:]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		username, _ := claims["username"].(string)
		role, _ := claims["role"].(string)
		c.Set("username", username)
		if role != "" {
			c.Set("role", role)
		}
		c.Next()
	}
}

func meHandler(c *gin.Context) {
	usernameVal, _ := c.Get("username")
	if usernameVal == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "context missing username"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": usernameVal.(string)})
}

// getUserFromContext fetches the currently authenticated user using the username set by jwtAuthMiddleware
func getUserFromContext(c *gin.Context) (*models.User, bool) {
	unameVal, _ := c.Get("username")
	if unameVal == nil {
		return nil, false
	}
	var user models.User
	if err := db.Where("username = ?", unameVal.(string)).First(&user).Error; err != nil {
		return nil, false
	}
	return &user, true
}

func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// parseAmount parses a positive decimal string amount.
func parseAmount(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Now().UTC(), true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ---------- auth ----------

func registerHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := Register(req.Username, req.Password); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user registered successfully"})
}

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	tokenString, err := signAccessToken(user, 24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	refreshToken, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "token": tokenString, "refresh_token": refreshToken})
}

// signAccessToken resolves the role name from RoleID and issues an HS256 JWT.
func signAccessToken(user models.User, ttl time.Duration) (string, error) {
	roleName := ""
	if user.RoleID != nil {
		var r models.Role
		if err := db.First(&r, *user.RoleID).Error; err == nil {
			roleName = r.Name
		}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": user.Username,
		"role":     roleName,
		"exp":      time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(jwtSecret)
}

// createAndStoreRefreshToken generates a random refresh token, stores its hash with expiry and returns the raw token string
func createAndStoreRefreshToken(userID uint) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	h := sha256.Sum256([]byte(token))
	rt := models.RefreshToken{UserID: userID, TokenHash: hex.EncodeToString(h[:]), ExpiresAt: time.Now().Add(30 * 24 * time.Hour)}
	if err := db.Create(&rt).Error; err != nil {
		return "", err
	}
	return token, nil
}

func findRefreshTokenByRaw(token string) (*models.RefreshToken, error) {
	h := sha256.Sum256([]byte(token))
	var rt models.RefreshToken
	if err := db.Where("token_hash = ?", hex.EncodeToString(h[:])).First(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	var user models.User
	if err := db.First(&user, rt.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	tokenString, err := signAccessToken(user, 15*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// rotate refresh token: revoke existing and create new one
	db.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true)
	newRT, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "refresh_token": newRT})
}

// revokeRefreshHandler revokes a given refresh token (useful on logout)
func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	rt.Revoked = true
	if err := db.Save(rt).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}

// ---------- wallets ----------

func createWalletHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		Name     string `json:"name" binding:"required"`
		Currency string `json:"currency"`
		Balance  string `json:"balance"` // opening balance, optional
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Currency == "" {
		req.Currency = "IDR"
	}
	opening := decimal.Zero
	if req.Balance != "" {
		d, ok := parseAmount(req.Balance)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid balance"})
			return
		}
		opening = d
	}
	w := models.Wallet{UserID: user.ID, Name: req.Name, Currency: req.Currency, Balance: opening, IsActive: true}
	if err := db.Create(&w).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusCreated, w)
}

func listWalletsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var wallets []models.Wallet
	if err := db.Where("user_id = ?", user.ID).Order("id").Find(&wallets).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, wallets)
}

func getWalletHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	w, err := findWallet(db, user.ID, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// updateWalletHandler changes wallet metadata only. The balance is never
// settable through the API; it moves exclusively via ledger operations.
func updateWalletHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Name     *string `json:"name"`
		Currency *string `json:"currency"`
		IsActive *bool   `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := findWallet(db, user.ID, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Currency != nil {
		updates["currency"] = *req.Currency
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) > 0 {
		if err := db.Model(w).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
			return
		}
	}
	c.JSON(http.StatusOK, w)
}

// deactivateWalletHandler soft-deactivates a wallet. Refused while active
// budgets still hold an allocation from it.
func deactivateWalletHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	w, err := findWallet(db, user.ID, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	var cnt int64
	db.Model(&models.Budget{}).Where("wallet_id = ? AND is_active = ?", w.ID, true).Count(&cnt)
	if cnt > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "wallet has active budgets"})
		return
	}
	if err := db.Model(w).Update("is_active", false).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// walletSummaryHandler returns income/expense totals grouped by month.
func walletSummaryHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if _, err := findWallet(db, user.ID, id); err != nil {
		respondLedgerError(c, err)
		return
	}
	type Result struct {
		Month   string          `json:"month"`
		Income  decimal.Decimal `json:"income"`
		Expense decimal.Decimal `json:"expense"`
	}
	var results []Result
	// strftime keeps this portable between sqlite (dev/tests) and postgres
	monthExpr := "to_char(date, 'YYYY-MM')"
	if db.Dialector.Name() == "sqlite" {
		monthExpr = "strftime('%Y-%m', date)"
	}
	rows, err := db.Model(&models.Transaction{}).
		Select(monthExpr+" as month, "+
			"sum(case when type = 'income' then amount else 0 end) as income, "+
			"sum(case when type = 'expense' then amount else 0 end) as expense").
		Where("wallet_id = ?", id).
		Group("month").Order("month").Rows()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	defer rows.Close()
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Month, &r.Income, &r.Expense); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
			return
		}
		results = append(results, r)
	}
	c.JSON(http.StatusOK, results)
}

// ---------- categories ----------

func createCategoryHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
		Type string `json:"type" binding:"required,oneof=income expense"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cat := models.Category{UserID: user.ID, Name: req.Name, Type: req.Type}
	if err := db.Create(&cat).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func listCategoriesHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var cats []models.Category
	if err := db.Where("user_id = ?", user.ID).Order("id").Find(&cats).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, cats)
}

func updateCategoryHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	cat, err := findCategory(db, user.ID, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	var req struct {
		Name *string `json:"name"`
		Type *string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Type != nil {
		if *req.Type != models.TypeIncome && *req.Type != models.TypeExpense {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type"})
			return
		}
		updates["type"] = *req.Type
	}
	if len(updates) > 0 {
		if err := db.Model(cat).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
			return
		}
	}
	c.JSON(http.StatusOK, cat)
}

func deleteCategoryHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	cat, err := findCategory(db, user.ID, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	// category removal has no balance side effects; dangling references are
	// nulled like budget deletion does
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Transaction{}).Where("category_id = ?", cat.ID).
			Update("category_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Budget{}).Where("category_id = ?", cat.ID).
			Update("category_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Category{}, cat.ID).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- transactions ----------

type transactionRequest struct {
	WalletID   uint   `json:"walletId" binding:"required"`
	CategoryID *uint  `json:"categoryId"`
	BudgetID   *uint  `json:"budgetId"`
	Type       string `json:"type" binding:"required,oneof=income expense"`
	Amount     string `json:"amount" binding:"required"`
	Date       string `json:"date"`
	Note       string `json:"note"`
	LocalID    string `json:"localId"`
}

func createTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	date, ok := parseDate(req.Date)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
		return
	}
	in := transactionInput{
		WalletID:   req.WalletID,
		CategoryID: req.CategoryID,
		BudgetID:   req.BudgetID,
		Type:       req.Type,
		Amount:     amount,
		Date:       date,
		Note:       req.Note,
	}
	// queue replays carry the client-generated id; a duplicate delivery of an
	// already-committed entry returns the committed row instead of applying
	// its deltas a second time
	if req.LocalID != "" {
		in.ClientLocalID = &req.LocalID
		var existing models.Transaction
		if err := db.Where("client_local_id = ? AND user_id = ?", req.LocalID, user.ID).
			First(&existing).Error; err == nil {
			c.JSON(http.StatusOK, existing)
			return
		}
	}
	var created *models.Transaction
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		created, txErr = createTransaction(tx, user.ID, in)
		return txErr
	})
	if err != nil {
		if in.ClientLocalID != nil && isUniqueConstraintError(err) {
			// lost a race with the duplicate delivery; the first one won
			var existing models.Transaction
			if e := db.Where("client_local_id = ? AND user_id = ?", req.LocalID, user.ID).
				First(&existing).Error; e == nil {
				c.JSON(http.StatusOK, existing)
				return
			}
		}
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func listTransactionsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var items []models.Transaction
	q := db.Where("user_id = ?", user.ID)
	if v := c.Query("walletId"); v != "" {
		q = q.Where("wallet_id = ?", v)
	}
	if v := c.Query("budgetId"); v != "" {
		q = q.Where("budget_id = ?", v)
	}
	if err := q.Order("date desc, id desc").Limit(200).Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func getTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	t, err := findTransaction(db, user.ID, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func updateTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req struct {
		WalletID   *uint   `json:"walletId"`
		CategoryID *uint   `json:"categoryId"`
		BudgetID   *uint   `json:"budgetId"`
		Type       *string `json:"type"`
		Amount     *string `json:"amount"`
		Date       *string `json:"date"`
		Note       *string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	patch := transactionPatch{
		WalletID:   req.WalletID,
		CategoryID: req.CategoryID,
		BudgetID:   req.BudgetID,
		Note:       req.Note,
	}
	if req.Type != nil {
		if *req.Type != models.TypeIncome && *req.Type != models.TypeExpense {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type"})
			return
		}
		patch.Type = req.Type
	}
	if req.Amount != nil {
		amount, ok := parseAmount(*req.Amount)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		patch.Amount = &amount
	}
	if req.Date != nil {
		date, ok := parseDate(*req.Date)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
			return
		}
		patch.Date = &date
	}
	var updated *models.Transaction
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		updated, txErr = updateTransaction(tx, user.ID, id, patch)
		return txErr
	})
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func deleteTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return deleteTransaction(tx, user.ID, id)
	})
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- budgets ----------

func createBudgetHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		WalletID        uint   `json:"walletId" binding:"required"`
		CategoryID      *uint  `json:"categoryId"`
		Name            string `json:"name" binding:"required"`
		AllocatedAmount string `json:"allocatedAmount" binding:"required"`
		Period          string `json:"period"`
		StartDate       string `json:"startDate"`
		EndDate         string `json:"endDate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	alloc, ok := parseAmount(req.AllocatedAmount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid allocatedAmount"})
		return
	}
	if req.Period == "" {
		req.Period = "monthly"
	}
	start, ok := parseDate(req.StartDate)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startDate"})
		return
	}
	end, ok := parseDate(req.EndDate)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endDate"})
		return
	}
	in := budgetInput{
		WalletID:        req.WalletID,
		CategoryID:      req.CategoryID,
		Name:            req.Name,
		AllocatedAmount: alloc,
		Period:          req.Period,
		StartDate:       start,
		EndDate:         end,
	}
	var created *models.Budget
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		created, txErr = createBudget(tx, user.ID, in)
		return txErr
	})
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func listBudgetsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var budgets []models.Budget
	q := db.Where("user_id = ?", user.ID)
	if v := c.Query("walletId"); v != "" {
		q = q.Where("wallet_id = ?", v)
	}
	if err := q.Order("id").Find(&budgets).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, budgets)
}

func getBudgetHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	b, err := findBudget(db, user.ID, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func updateBudgetHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req struct {
		WalletID        *uint   `json:"walletId"`
		CategoryID      *uint   `json:"categoryId"`
		Name            *string `json:"name"`
		AllocatedAmount *string `json:"allocatedAmount"`
		Period          *string `json:"period"`
		StartDate       *string `json:"startDate"`
		EndDate         *string `json:"endDate"`
		IsActive        *bool   `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	patch := budgetPatch{
		WalletID:   req.WalletID,
		CategoryID: req.CategoryID,
		Name:       req.Name,
		Period:     req.Period,
		IsActive:   req.IsActive,
	}
	if req.AllocatedAmount != nil {
		alloc, ok := parseAmount(*req.AllocatedAmount)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid allocatedAmount"})
			return
		}
		patch.AllocatedAmount = &alloc
	}
	if req.StartDate != nil {
		d, ok := parseDate(*req.StartDate)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startDate"})
			return
		}
		patch.StartDate = &d
	}
	if req.EndDate != nil {
		d, ok := parseDate(*req.EndDate)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endDate"})
			return
		}
		patch.EndDate = &d
	}
	var updated *models.Budget
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		updated, txErr = updateBudget(tx, user.ID, id, patch)
		return txErr
	})
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func deleteBudgetHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return deleteBudget(tx, user.ID, id)
	})
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
