package sentence

// builtinCorpus 內建句子集，PostgreSQL 未啟用時使用
var builtinCorpus = []string{
	"The quick brown fox jumps over the lazy dog.",
	"A journey of a thousand miles begins with one step.",
	"Practice makes perfect when you type every single day.",
	"The server answered every request in under ten milliseconds.",
	"Keep your fingers on the home row at all times.",
	"She sells sea shells down by the sea shore.",
	"Every mistake you make brings the roulette a little closer.",
	"Coffee tastes better when the build finally turns green.",
	"Rain fell softly on the old tin roof all night.",
	"Fast hands and calm nerves win this game.",
	"The library closes at nine, so please return your books.",
	"Our team shipped the new release before lunch on Friday.",
	"Never trust a cache that you did not warm yourself.",
	"He typed the final word and waited for the result.",
	"Bright stars filled the sky above the quiet desert.",
	"The cat slept on the warm keyboard all afternoon.",
	"Good code is read more often than it is written.",
	"Five players entered the room but only one survived.",
	"Type slowly at first, then let your speed grow.",
	"The old lighthouse guided ships safely through the storm.",
	"Do not panic when the timer starts to run low.",
	"A gentle breeze carried the smell of fresh bread.",
	"The mountain trail was steep, narrow, and very rocky.",
	"Every room code uses six letters or digits.",
	"Winter mornings are perfect for hot tea and long books.",
	"The orchestra played softly while the audience held its breath.",
	"Small steps every day add up to big changes.",
	"The robot learned to dance by watching old movies.",
	"Networks fail, so always plan for the retry.",
	"Green leaves turned gold as autumn slowly arrived.",
	"The detective found a clue hidden under the rug.",
	"My grandmother's recipe uses butter, sugar, and patience.",
	"Quick thinking saved the ship from the hidden reef.",
	"The children built a castle out of sand and shells.",
	"It's never too late to learn something completely new.",
	"Clear your mind and focus only on the next letter.",
	"The train left the station exactly on time today.",
	"Her laugh echoed through the empty concert hall.",
	"Honest feedback helps every developer grow a little stronger.",
	"The river carved a deep canyon over millions of years.",
	"Bees buzzed happily around the blooming lavender field.",
	"Two wrong keys in a row will cost you dearly.",
	"Lights flickered as the storm rolled over the hills.",
	"The chef tasted the soup and added some salt.",
	"Sharp pencils and blank paper invite new ideas.",
	"Deep in the forest, an owl called out twice.",
	"Let the rhythm of the keys carry you forward.",
	"The map showed a path that no one had taken.",
	"Fresh snow covered the village in a quiet white blanket.",
	"Slow and steady sometimes beats fast and careless.",
}
