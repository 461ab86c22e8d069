package user

type User struct {
	ID        int64   `json:"id"`
	Username  string  `json:"username"`
	Password  string  `json:"-"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type RegisterRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=50"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,url,max=255"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int64  `json:"id"`
	Username    string `json:"username"`
}
