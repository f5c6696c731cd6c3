package protocol

// Request is the outbound envelope for every player request. RequestType
// selects the server-side handler; Params carries handler-specific fields at
// the top level of the JSON object.
type Request struct {
	RequestType string
	Params      map[string]interface{}
}

// MarshalJSON flattens Params next to request_type, matching the single
// envelope shape the server accepts.
func (r Request) MarshalJSON() ([]byte, error) {
	obj := make(map[string]interface{}, len(r.Params)+1)
	for k, v := range r.Params {
		obj[k] = v
	}
	obj["request_type"] = r.RequestType
	return marshalJSON(obj)
}

// RecipeAction is the verb of a recipe request.
type RecipeAction string

const (
	RecipeExecute RecipeAction = "execute"
	RecipeCancel  RecipeAction = "cancel"
)

// SelectInvert is the sentinel selection value that asks the server to invert
// a boolean toggle instead of assigning a concrete choice.
const SelectInvert = "_invert"

// TimeSync requests the server's current timestamp for offset estimation.
func TimeSync() Request {
	return Request{RequestType: "time_sync"}
}

// ExecuteRecipe starts the recipe on its station.
func ExecuteRecipe(recipeID string) Request {
	return Request{RequestType: "recipe", Params: map[string]interface{}{
		"action":    string(RecipeExecute),
		"recipe_id": recipeID,
	}}
}

// CancelRecipe cancels the in-flight timed event started by a recipe.
func CancelRecipe(eventID string) Request {
	return Request{RequestType: "recipe", Params: map[string]interface{}{
		"action":   string(RecipeCancel),
		"event_id": eventID,
	}}
}

// MarketBuy purchases amount units of an item.
func MarketBuy(itemID string, amount int) Request {
	return Request{RequestType: "market_buy", Params: map[string]interface{}{
		"item_id": itemID,
		"amount":  amount,
	}}
}

// ServeNext resolves the next waiting patron order.
func ServeNext(whatDo string) Request {
	return Request{RequestType: "serve_next", Params: map[string]interface{}{
		"what_do": whatDo,
	}}
}

// SetPrice sets an item's sale price in integer minor units.
func SetPrice(itemID string, price int) Request {
	return Request{RequestType: "set_price", Params: map[string]interface{}{
		"item":  itemID,
		"price": price,
	}}
}

// Select writes a selection value for a selection target.
func Select(targetID, value string) Request {
	return Request{RequestType: "select", Params: map[string]interface{}{
		"target_id": targetID,
		"value":     value,
	}}
}

// GivePrompt asks the server for the next queued prompt of a given type.
func GivePrompt(promptType string) Request {
	return Request{RequestType: "give_prompt", Params: map[string]interface{}{
		"prompt_type": promptType,
	}}
}

// AnswerPrompt submits the player's input for an open prompt.
func AnswerPrompt(targetID string, input map[string]interface{}) Request {
	return Request{RequestType: "prompt", Params: map[string]interface{}{
		"target_id": targetID,
		"input":     input,
	}}
}

// ExecuteTest triggers a named server-side application test.
func ExecuteTest(testID string, params map[string]interface{}) Request {
	p := map[string]interface{}{"test_id": testID}
	for k, v := range params {
		p[k] = v
	}
	return Request{RequestType: "execute_test", Params: p}
}
