package matchdto

// Player is a seated participant as returned by the metadata API.
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Players mirrors the /games/{id}/players response.
type Players struct {
	WhitePlayer *Player `json:"whitePlayer,omitempty"`
	BlackPlayer *Player `json:"blackPlayer,omitempty"`
}

// MatchInfo mirrors the /games/{id} response.
type MatchInfo struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FEN           string `json:"fen"`
	WhitePlayerID string `json:"whitePlayerId,omitempty"`
	BlackPlayerID string `json:"blackPlayerId,omitempty"`
	TimeControl   string `json:"timeControl,omitempty"`
}

// PlayerAssignment binds the local player to a side for one session.
type PlayerAssignment struct {
	LocalPlayerID    string
	LocalSide        Side
	OpponentID       string
	LocalUsername    string
	OpponentUsername string
}
